package manifest

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), `
[project]
name = "shapes"
version = "0.1.0"

[runtime]
byte-order = "big"

[log]
verbosity = 2
file = "objcore.log"

[images]
paths = ["defs/*.yaml", "build/*.img"]

[dependencies]
base = { path = "../base" }
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "shapes" || m.Project.Version != "0.1.0" {
		t.Errorf("project = %+v", m.Project)
	}
	if order, err := m.ByteOrder(); err != nil || order != binary.BigEndian {
		t.Errorf("ByteOrder() = %v, %v", order, err)
	}
	if m.Log.Verbosity != 2 {
		t.Errorf("log verbosity = %d, want 2", m.Log.Verbosity)
	}
	if got, want := m.LogFilePath(), filepath.Join(m.Dir, "objcore.log"); got != want {
		t.Errorf("LogFilePath() = %q, want %q", got, want)
	}
	if diff := cmp.Diff([]string{"defs/*.yaml", "build/*.img"}, m.Images.Paths); diff != "" {
		t.Errorf("image paths mismatch (-want +got):\n%s", diff)
	}
	if dep, ok := m.Dependencies["base"]; !ok || dep.Path != "../base" {
		t.Errorf("base dep = %v, want path ../base", m.Dependencies["base"])
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), "[project]\nname = \"minimal\"\n")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Runtime.ByteOrder != "native" {
		t.Errorf("default byte-order = %q, want native", m.Runtime.ByteOrder)
	}
	if order, err := m.ByteOrder(); err != nil || order != nil {
		t.Errorf("native ByteOrder() = %v, %v", order, err)
	}
	if len(m.Images.Paths) != 1 || m.Images.Paths[0] != "*.img" {
		t.Errorf("default image paths = %v, want [*.img]", m.Images.Paths)
	}
	if m.LogFilePath() != "" {
		t.Errorf("default log file = %q", m.LogFilePath())
	}
}

func TestLoadManifestErrors(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load without objcore.toml should fail")
	}

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), "[runtime]\nbyte-order = \"middle\"\n")
	if _, err := Load(dir); err == nil {
		t.Error("an unknown byte order should be rejected")
	}

	dir = t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), "[project\n")
	if _, err := Load(dir); err == nil {
		t.Error("malformed TOML should be rejected")
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, FileName), "[project]\nname = \"found-project\"\n")

	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no objcore.toml exists")
	}
}

func TestImageFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.img", "a.img", "defs/x.yaml", "notes.txt"} {
		writeFile(t, filepath.Join(dir, name), "")
	}
	m := &Manifest{
		Dir:    dir,
		Images: Images{Paths: []string{"*.img", "defs/*.yaml", "a.img", "missing/*.img"}},
	}

	got, err := m.ImageFiles()
	if err != nil {
		t.Fatalf("ImageFiles: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.img"),
		filepath.Join(dir, "b.img"),
		filepath.Join(dir, "defs", "x.yaml"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ImageFiles mismatch (-want +got):\n%s", diff)
	}

	m.Images.Paths = []string{"[bad"}
	if _, err := m.ImageFiles(); err == nil {
		t.Error("a malformed pattern should fail")
	}
}

func TestLockFileRoundTrip(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "lock.toml")

	lf := &LockFile{
		Deps: []LockedDep{
			{Name: "shapes", Git: "https://example.com/shapes.git", Commit: "abc123", Tag: "v0.5.0"},
			{Name: "base", Path: "../base"},
		},
	}
	if err := WriteLock(lockPath, lf); err != nil {
		t.Fatalf("WriteLock failed: %v", err)
	}

	loaded, err := ReadLock(lockPath)
	if err != nil {
		t.Fatalf("ReadLock failed: %v", err)
	}
	want := []LockedDep{lf.Deps[1], lf.Deps[0]}
	if diff := cmp.Diff(want, loaded.Deps); diff != "" {
		t.Errorf("lock entries mismatch (-want +got):\n%s", diff)
	}

	if found := loaded.FindLockedDep("base"); found == nil || found.Path != "../base" {
		t.Errorf("FindLockedDep(base) = %v, want path ../base", found)
	}
	if notFound := loaded.FindLockedDep("nonexistent"); notFound != nil {
		t.Errorf("FindLockedDep(nonexistent) = %v, want nil", notFound)
	}
	var none *LockFile
	if none.FindLockedDep("base") != nil {
		t.Error("a nil lock file has no entries")
	}
}

func TestReadLockNotFound(t *testing.T) {
	lf, err := ReadLock("/nonexistent/path/lock.toml")
	if err != nil {
		t.Errorf("ReadLock should return nil,nil for missing file, got err: %v", err)
	}
	if lf != nil {
		t.Errorf("ReadLock should return nil for missing file, got %v", lf)
	}
}
