package installer

import (
	"os"
	"path/filepath"
	"strings"

	rattler "github.com/mamba-org/rattler-go"
)

// Remove deletes the files of an uninstalled package (a Remove or
// Change(old,_) op's old record) and prunes directories the removal leaves
// empty. keep reports whether a prefix-relative directory must survive
// regardless of emptiness (still referenced by another installed record, or
// holding a noarch:python module whose .pyc sibling will be regenerated);
// keep may be nil.
func Remove(prefix string, rec *rattler.PrefixRecord, keep func(dir string) bool) error {
	candidates := make(map[string]bool)
	for _, p := range rec.Paths {
		if p.PathType == rattler.LinkDirectory {
			candidates[p.RelativePath] = true
			continue
		}
		full := filepath.Join(prefix, p.RelativePath)
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return &rattler.DomainError{Inner: err, Kind: rattler.ErrTransient, Disc: rattler.DiscLinkFailed, Path: full, Reason: "failed to remove installed file", Op: "installer.Remove"}
		}
		candidates[filepath.Dir(p.RelativePath)] = true
	}
	return pruneEmptyDirectories(prefix, candidates, keep)
}

// KeepPythonModuleDirs wraps a base keep predicate to also retain any
// directory containing a ".py" file belonging to a still-installed
// noarch:python record, since its "*.pyc" sibling will be regenerated on
// next import and shouldn't be orphaned by an unrelated package's removal.
func KeepPythonModuleDirs(records []rattler.PrefixRecord, base func(dir string) bool) func(dir string) bool {
	pyDirs := make(map[string]bool)
	for _, rec := range records {
		if rec.Noarch != rattler.NoarchPython {
			continue
		}
		for _, p := range rec.Paths {
			if strings.HasSuffix(p.RelativePath, ".py") {
				pyDirs[filepath.Dir(p.RelativePath)] = true
			}
		}
	}
	return func(dir string) bool {
		if pyDirs[dir] {
			return true
		}
		if base != nil {
			return base(dir)
		}
		return false
	}
}

// pruneEmptyDirectories removes directories bottom-up while they're empty
// and not in keep, starting from candidates and walking upward: removing a
// directory makes its parent a new candidate, so a whole now-empty subtree
// collapses in one pass.
func pruneEmptyDirectories(prefix string, candidates map[string]bool, keep func(dir string) bool) error {
	prefix = filepath.Clean(prefix)
	pending := make(map[string]bool, len(candidates))
	for d := range candidates {
		pending[d] = true
	}

	for len(pending) > 0 {
		var deepest string
		for d := range pending {
			if deepest == "" || len(d) > len(deepest) {
				deepest = d
			}
		}
		delete(pending, deepest)

		full := filepath.Join(prefix, deepest)
		if full == prefix || !strings.HasPrefix(full, prefix) {
			continue
		}
		if keep != nil && keep(deepest) {
			continue
		}

		entries, err := os.ReadDir(full)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if len(entries) > 0 {
			continue
		}
		if err := os.Remove(full); err != nil {
			return err
		}

		parent := filepath.Dir(deepest)
		if parent != deepest && parent != "." {
			pending[parent] = true
		}
	}
	return nil
}
