package installer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	rattler "github.com/mamba-org/rattler-go"
	"github.com/mamba-org/rattler-go/version"
)

func writePrefixFile(t *testing.T, prefix, relPath, content string) {
	t.Helper()
	full := filepath.Join(prefix, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

// TestPostProcessReconcilesClobberToTopologicalWinner simulates a link race
// where pkg-b (topologically second) happened to grab the canonical "bin/tool"
// path, while pkg-a (topologically first, so the deterministic winner) ended
// up mangled. PostProcess must swap them so pkg-a ends at the canonical name.
func TestPostProcessReconcilesClobberToTopologicalWinner(t *testing.T) {
	prefix := t.TempDir()
	writePrefixFile(t, prefix, "bin/tool.c1", "from-a")
	writePrefixFile(t, prefix, "bin/tool", "from-b")

	pkgA := rattler.PrefixRecord{
		RepoDataRecord: rattler.RepoDataRecord{PackageRecord: rattler.PackageRecord{Name: "pkg-a", Version: version.MustParse("1.0"), Build: "h0"}},
		Paths:          []rattler.PrefixPathsEntry{{PathsEntry: rattler.PathsEntry{RelativePath: "bin/tool.c1"}, OriginalPath: "bin/tool"}},
	}
	pkgB := rattler.PrefixRecord{
		RepoDataRecord: rattler.RepoDataRecord{PackageRecord: rattler.PackageRecord{Name: "pkg-b", Version: version.MustParse("1.0"), Build: "h0"}},
		Paths:          []rattler.PrefixPathsEntry{{PathsEntry: rattler.PathsEntry{RelativePath: "bin/tool"}}},
	}
	if err := writeCondaMeta(prefix, &pkgA); err != nil {
		t.Fatalf("writeCondaMeta a: %v", err)
	}
	if err := writeCondaMeta(prefix, &pkgB); err != nil {
		t.Fatalf("writeCondaMeta b: %v", err)
	}

	driver, ctx := NewDriver(context.Background(), 1, nil)
	if err := driver.PostProcess(ctx, prefix); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(prefix, "bin/tool"))
	if err != nil {
		t.Fatalf("ReadFile canonical: %v", err)
	}
	if string(data) != "from-a" {
		t.Fatalf("expected topologically-first pkg-a to own the canonical path, got content %q", data)
	}

	records, err := loadCondaMeta(prefix)
	if err != nil {
		t.Fatalf("loadCondaMeta: %v", err)
	}
	byName := map[string]rattler.PrefixRecord{}
	for _, r := range records {
		byName[r.Name] = r
	}
	if byName["pkg-a"].Paths[0].RelativePath != "bin/tool" || byName["pkg-a"].Paths[0].OriginalPath != "" {
		t.Fatalf("expected pkg-a reconciled to canonical, got %+v", byName["pkg-a"].Paths[0])
	}
	if byName["pkg-b"].Paths[0].RelativePath == "bin/tool" || byName["pkg-b"].Paths[0].OriginalPath != "bin/tool" {
		t.Fatalf("expected pkg-b reconciled to a mangled slot, got %+v", byName["pkg-b"].Paths[0])
	}
}
