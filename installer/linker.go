package installer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"unicode/utf8"

	rattler "github.com/mamba-org/rattler-go"
)

// Options configures Linker's placement strategy for one transaction.
type Options struct {
	// AllowHardLinks and AllowSymbolicLinks are normally determined once per
	// prefix by ProbeSupport; callers may force either to false (e.g. to
	// target a filesystem known not to support them) regardless of what
	// probing found.
	AllowHardLinks     bool
	AllowSymbolicLinks bool
	// PythonSitePackagesPath is the site-packages directory, relative to the
	// prefix, that noarch:python packages' "site-packages/..." paths are
	// rewritten into (e.g. "lib/python3.11/site-packages").
	PythonSitePackagesPath string
}

// ProbeSupport creates and deletes a sentinel hardlink and symlink under
// prefix to determine what the underlying filesystem supports.
func ProbeSupport(prefix string) (allowHardLinks, allowSymbolicLinks bool) {
	src := filepath.Join(prefix, ".rattler-probe-src")
	if f, err := os.Create(src); err == nil {
		f.Close()
		defer os.Remove(src)

		hardDst := filepath.Join(prefix, ".rattler-probe-hard")
		if err := os.Link(src, hardDst); err == nil {
			allowHardLinks = true
			os.Remove(hardDst)
		}

		symDst := filepath.Join(prefix, ".rattler-probe-sym")
		if err := os.Symlink(src, symDst); err == nil {
			allowSymbolicLinks = true
			os.Remove(symDst)
		}
	}
	return allowHardLinks, allowSymbolicLinks
}

// Linker places one package's extracted files into a prefix.
type Linker struct {
	driver   *Driver
	prefix   string
	cacheDir string // directory the package archive was extracted into
	opts     Options
}

// NewLinker returns a Linker that places rec's files (already extracted to
// cacheDir) into prefix, sharing driver's clobber registry with every other
// package in the same transaction.
func NewLinker(driver *Driver, prefix, cacheDir string, opts Options) *Linker {
	return &Linker{driver: driver, prefix: prefix, cacheDir: cacheDir, opts: opts}
}

// LinkPackage links every PathsEntry of rec's manifest into the prefix, in
// manifest order, and writes the resulting conda-meta record.
func (l *Linker) LinkPackage(rec *rattler.RepoDataRecord, paths []rattler.PathsEntry) (*rattler.PrefixRecord, error) {
	if !utf8.ValidString(l.prefix) {
		return nil, &rattler.DomainError{Kind: rattler.ErrInvalid, Disc: rattler.DiscTargetPrefixNotUtf8, Path: l.prefix, Reason: "prefix path is not valid UTF-8", Op: "installer.Linker.LinkPackage"}
	}

	var linkJSON *linkJSONDoc
	if rec.Noarch == rattler.NoarchPython {
		linkJSON = readLinkJSON(l.cacheDir)
	}

	entries := make([]rattler.PrefixPathsEntry, 0, len(paths))
	for _, entry := range paths {
		placed, err := l.linkEntry(rec, entry)
		if err != nil {
			l.rollback(rec.Identity(), entries)
			return nil, err
		}
		entries = append(entries, placed)
	}

	if linkJSON != nil {
		scripts, err := l.generateEntryPoints(linkJSON, rec)
		if err != nil {
			l.rollback(rec.Identity(), entries)
			return nil, err
		}
		entries = append(entries, scripts...)
	}

	prefixRecord := &rattler.PrefixRecord{
		RepoDataRecord: *rec,
		Paths:          entries,
		Link:           rattler.Link{Source: l.cacheDir, LinkType: rattler.LinkCopy},
	}
	if err := writeCondaMeta(l.prefix, prefixRecord); err != nil {
		l.rollback(rec.Identity(), entries)
		return nil, err
	}
	return prefixRecord, nil
}

// rollback removes every file this package placed: a fatal error during one
// package's link undoes that package's own writes (it never touches files
// another package's identity owns in the clobber registry).
func (l *Linker) rollback(owner string, placed []rattler.PrefixPathsEntry) {
	for _, e := range placed {
		if e.PathType == rattler.LinkDirectory {
			continue
		}
		if o := l.driver.ownerOf(e.RelativePath); o != owner {
			continue
		}
		os.Remove(filepath.Join(l.prefix, e.RelativePath))
	}
}

func (l *Linker) linkEntry(rec *rattler.RepoDataRecord, entry rattler.PathsEntry) (rattler.PrefixPathsEntry, error) {
	canonical := l.translateNoarchPath(rec, entry.RelativePath)
	mangled := l.driver.claimPath(canonical, rec.Identity())
	target := filepath.Join(l.prefix, mangled)

	if entry.PathType == rattler.LinkDirectory {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return rattler.PrefixPathsEntry{}, linkFailed(target, "failed to create directory", err)
		}
		linkStrategyCounter.WithLabelValues(string(rattler.LinkDirectory)).Inc()
		return rattler.PrefixPathsEntry{PathsEntry: withRelativePath(entry, mangled), LinkType: rattler.LinkDirectory}, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return rattler.PrefixPathsEntry{}, &rattler.DomainError{Inner: err, Kind: rattler.ErrTransient, Disc: rattler.DiscCreateTargetDirFailed, Path: filepath.Dir(target), Reason: "failed to create parent directory", Op: "installer.Linker.linkEntry"}
	}
	source := filepath.Join(l.cacheDir, entry.RelativePath)

	var linkType rattler.LinkType
	var sha256InPrefix string
	switch {
	case entry.PrefixPlaceholder != "":
		sum, err := l.materializeWithPlaceholder(source, target, entry)
		if err != nil {
			return rattler.PrefixPathsEntry{}, err
		}
		linkType, sha256InPrefix = rattler.LinkCopy, sum

	case entry.PathType == rattler.LinkSoftLink:
		if l.opts.AllowSymbolicLinks {
			if err := linkSymlink(source, target); err != nil {
				return rattler.PrefixPathsEntry{}, linkFailed(target, "failed to create symlink", err)
			}
			linkType = rattler.LinkSoftLink
		} else {
			if err := copySymlinkTarget(source, target); err != nil {
				return rattler.PrefixPathsEntry{}, linkFailed(target, "failed to copy symlink target", err)
			}
			linkType = rattler.LinkCopy
		}

	case l.opts.AllowHardLinks:
		if err := os.Link(source, target); err != nil {
			if err := copyFile(source, target); err != nil {
				return rattler.PrefixPathsEntry{}, linkFailed(target, "failed to copy file after hardlink attempt failed", err)
			}
			linkType = rattler.LinkCopy
		} else {
			linkType = rattler.LinkHardLink
		}

	default:
		if err := copyFile(source, target); err != nil {
			return rattler.PrefixPathsEntry{}, linkFailed(target, "failed to copy file", err)
		}
		linkType = rattler.LinkCopy
	}
	linkStrategyCounter.WithLabelValues(string(linkType)).Inc()

	var originalPath string
	if mangled != canonical {
		originalPath = canonical
	}
	return rattler.PrefixPathsEntry{
		PathsEntry:     withRelativePath(entry, mangled),
		OriginalPath:   originalPath,
		LinkType:       linkType,
		SHA256InPrefix: sha256InPrefix,
	}, nil
}

func withRelativePath(entry rattler.PathsEntry, path string) rattler.PathsEntry {
	entry.RelativePath = path
	return entry
}

func linkFailed(path, reason string, err error) error {
	return &rattler.DomainError{Inner: err, Kind: rattler.ErrTransient, Disc: rattler.DiscLinkFailed, Path: path, Reason: reason, Op: "installer.Linker.linkEntry"}
}

// translateNoarchPath rewrites a noarch:python package's "site-packages/..."
// entries into the prefix's actual site-packages directory.
func (l *Linker) translateNoarchPath(rec *rattler.RepoDataRecord, relPath string) string {
	if rec.Noarch != rattler.NoarchPython {
		return relPath
	}
	const prefix = "site-packages/"
	if !strings.HasPrefix(relPath, prefix) {
		return relPath
	}
	if l.opts.PythonSitePackagesPath == "" {
		return relPath
	}
	return filepath.Join(l.opts.PythonSitePackagesPath, strings.TrimPrefix(relPath, prefix))
}

// materializeWithPlaceholder rewrites entry's prefix_placeholder occurrences
// with l.prefix and writes the result to target, returning its sha256.
// Binary mode NUL-pads the replacement to the placeholder's original byte
// length so every other offset in the file stays put; text mode substitutes
// directly.
func (l *Linker) materializeWithPlaceholder(source, target string, entry rattler.PathsEntry) (string, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return "", linkFailed(source, "failed to read source for prefix rewriting", err)
	}

	old := []byte(entry.PrefixPlaceholder)
	replacement := []byte(l.prefix)
	if entry.FileMode == rattler.FileModeBinary {
		if len(replacement) > len(old) {
			return "", linkFailed(target, "prefix path too long to fit binary placeholder", nil)
		}
		padded := make([]byte, len(old))
		copy(padded, replacement)
		data = bytes.ReplaceAll(data, old, padded)
	} else {
		data = bytes.ReplaceAll(data, old, replacement)
	}

	sum := sha256.Sum256(data)
	if err := writeRegularFile(target, data); err != nil {
		return "", linkFailed(target, "failed to write rewritten file", err)
	}
	return hex.EncodeToString(sum[:]), nil
}

func writeRegularFile(target string, data []byte) error {
	tmp := target + ".rattler-tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

func copyFile(source, target string) error {
	src, err := os.Open(source)
	if err != nil {
		return err
	}
	defer src.Close()
	fi, err := src.Stat()
	if err != nil {
		return err
	}

	tmp := target + ".rattler-tmp"
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, target)
}

func linkSymlink(source, target string) error {
	dest, err := os.Readlink(source)
	if err != nil {
		return err
	}
	return os.Symlink(dest, target)
}

func copySymlinkTarget(source, target string) error {
	dest, err := os.Readlink(source)
	if err != nil {
		return err
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(filepath.Dir(source), dest)
	}
	return copyFile(dest, target)
}

// linkJSONDoc mirrors info/link.json for noarch:python packages.
type linkJSONDoc struct {
	Noarch struct {
		Type        string   `json:"type"`
		EntryPoints []string `json:"entry_points"`
	} `json:"noarch"`
}

func readLinkJSON(packageDir string) *linkJSONDoc {
	data, err := os.ReadFile(filepath.Join(packageDir, "info", "link.json"))
	if err != nil {
		return nil
	}
	var doc linkJSONDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	if doc.Noarch.Type != "python" {
		return nil
	}
	return &doc
}

// generateEntryPoints writes one launcher script per "cmd = module:function"
// entry point under <prefix>/bin (Unix) or <prefix>/Scripts (Windows).
func (l *Linker) generateEntryPoints(doc *linkJSONDoc, rec *rattler.RepoDataRecord) ([]rattler.PrefixPathsEntry, error) {
	binDir := "bin"
	if runtime.GOOS == "windows" {
		binDir = "Scripts"
	}
	if err := os.MkdirAll(filepath.Join(l.prefix, binDir), 0o755); err != nil {
		return nil, &rattler.DomainError{Inner: err, Kind: rattler.ErrTransient, Disc: rattler.DiscCreateTargetDirFailed, Path: binDir, Reason: "failed to create entry-point directory", Op: "installer.Linker.generateEntryPoints"}
	}

	entries := make([]rattler.PrefixPathsEntry, 0, len(doc.Noarch.EntryPoints))
	for _, ep := range doc.Noarch.EntryPoints {
		name, module, function, ok := parseEntryPoint(ep)
		if !ok {
			continue
		}
		relPath := filepath.Join(binDir, name)
		canonical := l.translateNoarchPath(rec, relPath)
		mangled := l.driver.claimPath(canonical, rec.Identity())
		target := filepath.Join(l.prefix, mangled)

		script := entryPointScript(module, function)
		if err := writeRegularFile(target, []byte(script)); err != nil {
			return nil, linkFailed(target, "failed to write entry-point script", err)
		}
		if err := os.Chmod(target, 0o755); err != nil {
			return nil, linkFailed(target, "failed to make entry-point executable", err)
		}

		sum := sha256.Sum256([]byte(script))
		var originalPath string
		if mangled != canonical {
			originalPath = canonical
		}
		entries = append(entries, rattler.PrefixPathsEntry{
			PathsEntry:     rattler.PathsEntry{RelativePath: mangled, PathType: rattler.LinkHardLink},
			OriginalPath:   originalPath,
			LinkType:       rattler.LinkCopy,
			SHA256InPrefix: hex.EncodeToString(sum[:]),
		})
	}
	return entries, nil
}

func parseEntryPoint(ep string) (name, module, function string, ok bool) {
	parts := strings.SplitN(ep, "=", 2)
	if len(parts) != 2 {
		return "", "", "", false
	}
	name = strings.TrimSpace(parts[0])
	target := strings.TrimSpace(parts[1])
	modFunc := strings.SplitN(target, ":", 2)
	if len(modFunc) != 2 || name == "" {
		return "", "", "", false
	}
	return name, strings.TrimSpace(modFunc[0]), strings.TrimSpace(modFunc[1]), true
}

func entryPointScript(module, function string) string {
	if runtime.GOOS == "windows" {
		return "@echo off\r\npython -c \"import sys; from " + module + " import " + function + "; sys.exit(" + function + "())\" %*\r\n"
	}
	return "#!/bin/sh\nexec python -c \"import sys; from " + module + " import " + function + "; sys.exit(" + function + "())\" \"$@\"\n"
}

// writeCondaMeta atomically writes rec's conda-meta record (write temp,
// rename), mirroring cas.Store's staging idiom.
func writeCondaMeta(prefix string, rec *rattler.PrefixRecord) error {
	dir := filepath.Join(prefix, "conda-meta")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &rattler.DomainError{Inner: err, Kind: rattler.ErrTransient, Disc: rattler.DiscCreateTargetDirFailed, Path: dir, Reason: "failed to create conda-meta directory", Op: "installer.writeCondaMeta"}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &rattler.DomainError{Inner: err, Kind: rattler.ErrInternal, Disc: rattler.DiscPostProcessFailed, Reason: "failed to encode PrefixRecord", Op: "installer.writeCondaMeta"}
	}

	dst := filepath.Join(dir, rec.ConfFile())
	tmp := dst + ".rattler-tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &rattler.DomainError{Inner: err, Kind: rattler.ErrTransient, Disc: rattler.DiscPostProcessFailed, Path: dst, Reason: "failed to stage conda-meta record", Op: "installer.writeCondaMeta"}
	}
	if err := os.Rename(tmp, dst); err != nil {
		return &rattler.DomainError{Inner: err, Kind: rattler.ErrTransient, Disc: rattler.DiscPostProcessFailed, Path: dst, Reason: "failed to persist conda-meta record", Op: "installer.writeCondaMeta"}
	}
	return nil
}
