// Package manifest handles objcore.toml project configuration.
package manifest

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the configuration file.
const FileName = "objcore.toml"

// Manifest represents an objcore.toml configuration.
type Manifest struct {
	Project      Project               `toml:"project"`
	Runtime      Runtime               `toml:"runtime"`
	Log          Log                   `toml:"log"`
	Images       Images                `toml:"images"`
	Dependencies map[string]Dependency `toml:"dependencies"`

	// Dir is the directory containing the objcore.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Runtime configures the domains the CLI creates.
type Runtime struct {
	// ByteOrder is "native", "little" or "big".
	ByteOrder string `toml:"byte-order"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Images lists the metadata images to load. Paths are glob patterns
// relative to the manifest directory; .yaml definitions are compiled on
// load.
type Images struct {
	Paths []string `toml:"paths"`
}

// Dependency is another objcore project whose images are loaded first.
type Dependency struct {
	Git  string `toml:"git"`
	Tag  string `toml:"tag"`
	Path string `toml:"path"`
}

// Load parses an objcore.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Runtime.ByteOrder == "" {
		m.Runtime.ByteOrder = "native"
	}
	if len(m.Images.Paths) == 0 {
		m.Images.Paths = []string{"*.img"}
	}
	if _, err := m.ByteOrder(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find an objcore.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// ByteOrder returns the configured byte order, or nil for the host order.
func (m *Manifest) ByteOrder() (binary.ByteOrder, error) {
	switch strings.ToLower(m.Runtime.ByteOrder) {
	case "", "native":
		return nil, nil
	case "little", "little-endian":
		return binary.LittleEndian, nil
	case "big", "big-endian":
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("unknown byte-order %q", m.Runtime.ByteOrder)
}

// ImageFiles expands the image patterns into sorted absolute paths. A
// pattern that matches nothing is not an error.
func (m *Manifest) ImageFiles() ([]string, error) {
	var files []string
	for _, p := range m.Images.Paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(m.Dir, p)
		}
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("bad image pattern %q: %w", p, err)
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// LogFilePath returns the absolute log file path, or "" for stderr.
func (m *Manifest) LogFilePath() string {
	if m.Log.File == "" || filepath.IsAbs(m.Log.File) {
		return m.Log.File
	}
	return filepath.Join(m.Dir, m.Log.File)
}

// DepsDir returns the path to the .objcore/deps directory.
func (m *Manifest) DepsDir() string {
	return filepath.Join(m.Dir, ".objcore", "deps")
}

// LockFilePath returns the path to .objcore/lock.toml.
func (m *Manifest) LockFilePath() string {
	return filepath.Join(m.Dir, ".objcore", "lock.toml")
}
