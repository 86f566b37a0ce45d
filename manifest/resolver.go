package manifest

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("objcore.manifest")

// ResolvedDep represents a dependency that has been resolved to a local path.
type ResolvedDep struct {
	Name      string    // dependency name
	LocalPath string    // local filesystem path
	Manifest  *Manifest // the dependency's own manifest (may be nil)
}

// ImageFiles returns the dependency's image files. Without a manifest the
// default pattern is applied to its root.
func (d *ResolvedDep) ImageFiles() ([]string, error) {
	m := d.Manifest
	if m == nil {
		m = &Manifest{Dir: d.LocalPath, Images: Images{Paths: []string{"*.img"}}}
	}
	return m.ImageFiles()
}

// Resolver manages dependency resolution.
type Resolver struct {
	manifest *Manifest
	lock     *LockFile
}

// NewResolver creates a new dependency resolver.
func NewResolver(m *Manifest) *Resolver {
	return &Resolver{manifest: m}
}

// Resolve resolves all dependencies and returns them in load order
// (dependencies before dependents).
func (r *Resolver) Resolve() ([]ResolvedDep, error) {
	if len(r.manifest.Dependencies) == 0 {
		return nil, nil
	}

	lock, err := ReadLock(r.manifest.LockFilePath())
	if err != nil {
		return nil, fmt.Errorf("reading lock file: %w", err)
	}
	r.lock = lock

	resolved := make(map[string]*ResolvedDep)
	order, err := r.resolveAll(r.manifest, resolved)
	if err != nil {
		return nil, err
	}

	if err := r.writeLock(resolved); err != nil {
		return nil, fmt.Errorf("writing lock file: %w", err)
	}
	return order, nil
}

// ImageFiles returns the image files of every dependency followed by the
// manifest's own, in load order.
func (r *Resolver) ImageFiles() ([]string, error) {
	deps, err := r.Resolve()
	if err != nil {
		return nil, err
	}
	var files []string
	for _, d := range deps {
		fs, err := d.ImageFiles()
		if err != nil {
			return nil, fmt.Errorf("dependency %s: %w", d.Name, err)
		}
		files = append(files, fs...)
	}
	own, err := r.manifest.ImageFiles()
	if err != nil {
		return nil, err
	}
	return append(files, own...), nil
}

// resolveAll resolves the dependencies of m recursively, in name order.
// Returns dependencies in topological order (deps before dependents).
func (r *Resolver) resolveAll(m *Manifest, resolved map[string]*ResolvedDep) ([]ResolvedDep, error) {
	var order []ResolvedDep

	for _, name := range slices.Sorted(maps.Keys(m.Dependencies)) {
		if _, ok := resolved[name]; ok {
			continue // already resolved
		}

		rd, err := r.resolveOne(m, name, m.Dependencies[name])
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", name, err)
		}
		resolved[name] = rd

		if rd.Manifest != nil && len(rd.Manifest.Dependencies) > 0 {
			transitive, err := r.resolveAll(rd.Manifest, resolved)
			if err != nil {
				return nil, err
			}
			order = append(order, transitive...)
		}
		order = append(order, *rd)
	}

	return order, nil
}

// resolveOne resolves a single dependency declared by m. Git dependencies
// are cloned into the root manifest's deps directory.
func (r *Resolver) resolveOne(m *Manifest, name string, dep Dependency) (*ResolvedDep, error) {
	switch {
	case dep.Path != "":
		localPath := dep.Path
		if !filepath.IsAbs(localPath) {
			localPath = filepath.Join(m.Dir, localPath)
		}
		if _, err := os.Stat(localPath); err != nil {
			return nil, fmt.Errorf("local dependency %q not found at %s: %w", name, localPath, err)
		}
		return r.loadDep(name, localPath)

	case dep.Git != "":
		depDir := filepath.Join(r.manifest.DepsDir(), name)
		if _, err := os.Stat(depDir); os.IsNotExist(err) {
			if err := os.MkdirAll(r.manifest.DepsDir(), 0o755); err != nil {
				return nil, fmt.Errorf("creating deps dir: %w", err)
			}
			log.Infof("cloning %s from %s", name, dep.Git)
			if err := gitClone(dep.Git, depDir); err != nil {
				return nil, err
			}
		} else if locked := r.lock.FindLockedDep(name); locked == nil || locked.Tag != dep.Tag {
			log.Infof("fetching %s", name)
			if err := gitFetch(depDir); err != nil {
				return nil, err
			}
		}
		if dep.Tag != "" {
			if err := gitCheckout(depDir, dep.Tag); err != nil {
				return nil, err
			}
		}
		return r.loadDep(name, depDir)
	}

	return nil, fmt.Errorf("dependency %q has no git or path specified", name)
}

func (r *Resolver) loadDep(name, dir string) (*ResolvedDep, error) {
	var depManifest *Manifest
	if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
		m, err := Load(dir)
		if err != nil {
			return nil, err
		}
		depManifest = m
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	log.Debugf("resolved %s to %s", name, abs)
	return &ResolvedDep{Name: name, LocalPath: abs, Manifest: depManifest}, nil
}

// writeLock records the resolved dependencies of the root manifest.
func (r *Resolver) writeLock(resolved map[string]*ResolvedDep) error {
	lf := &LockFile{}
	for _, rd := range resolved {
		ld := LockedDep{Name: rd.Name}
		dep, direct := r.manifest.Dependencies[rd.Name]
		switch {
		case direct && dep.Git != "":
			ld.Git = dep.Git
			ld.Tag = dep.Tag
			if commit, err := gitCurrentCommit(rd.LocalPath); err == nil {
				ld.Commit = commit
			}
		case direct:
			ld.Path = dep.Path
		default:
			ld.Path = rd.LocalPath
		}
		lf.Deps = append(lf.Deps, ld)
	}

	if err := os.MkdirAll(filepath.Dir(r.manifest.LockFilePath()), 0o755); err != nil {
		return err
	}
	return WriteLock(r.manifest.LockFilePath(), lf)
}
