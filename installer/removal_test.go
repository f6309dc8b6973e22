package installer

import (
	"os"
	"path/filepath"
	"testing"

	rattler "github.com/mamba-org/rattler-go"
)

func TestRemoveDeletesFilesAndPrunesEmptyDirs(t *testing.T) {
	prefix := t.TempDir()
	full := filepath.Join(prefix, "lib", "pkg", "file.txt")
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rec := &rattler.PrefixRecord{
		Paths: []rattler.PrefixPathsEntry{
			{PathsEntry: rattler.PathsEntry{RelativePath: "lib/pkg/file.txt", PathType: rattler.LinkHardLink}},
		},
	}
	if err := Remove(prefix, rec, nil); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(prefix, "lib")); !os.IsNotExist(err) {
		t.Fatalf("expected lib/ to be pruned away, stat err: %v", err)
	}
}

func TestRemoveHonorsKeepPredicate(t *testing.T) {
	prefix := t.TempDir()
	full := filepath.Join(prefix, "lib", "shared.txt")
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rec := &rattler.PrefixRecord{
		Paths: []rattler.PrefixPathsEntry{
			{PathsEntry: rattler.PathsEntry{RelativePath: "lib/shared.txt", PathType: rattler.LinkHardLink}},
		},
	}
	keep := func(dir string) bool { return dir == "lib" }
	if err := Remove(prefix, rec, keep); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(prefix, "lib")); err != nil {
		t.Fatalf("expected lib/ to survive because it's kept, got: %v", err)
	}
}

func TestKeepPythonModuleDirsRetainsPyDirectories(t *testing.T) {
	records := []rattler.PrefixRecord{{
		RepoDataRecord: rattler.RepoDataRecord{PackageRecord: rattler.PackageRecord{Noarch: rattler.NoarchPython}},
		Paths: []rattler.PrefixPathsEntry{
			{PathsEntry: rattler.PathsEntry{RelativePath: "lib/python3.11/site-packages/foo/__init__.py"}},
		},
	}}
	keep := KeepPythonModuleDirs(records, nil)
	if !keep("lib/python3.11/site-packages/foo") {
		t.Fatal("expected directory containing a .py module to be kept")
	}
	if keep("lib/python3.11/site-packages/bar") {
		t.Fatal("expected unrelated directory to not be kept")
	}
}
