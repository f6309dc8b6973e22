// Package validate checks that the files on disk in an extracted package
// directory match the manifest recorded in that package's info/paths.json.
package validate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	rattler "github.com/mamba-org/rattler-go"
)

// pathsJSON mirrors the on-disk schema of info/paths.json (paths_version 1).
type pathsJSON struct {
	PathsVersion int              `json:"paths_version"`
	Paths        []pathsJSONEntry `json:"paths"`
}

type pathsJSONEntry struct {
	RelativePath string `json:"_path"`
	PathType     string `json:"path_type"`
	SHA256       string `json:"sha256,omitempty"`
	SizeInBytes  int64  `json:"size_in_bytes,omitempty"`
	NoLink       bool   `json:"no_link,omitempty"`
}

// Directory validates that dir contains the files described by its
// info/paths.json and returns the parsed entries. An error wraps a
// [*rattler.DomainError] with one of the Disc Validation* discriminants
// naming which entry, and how, failed.
func Directory(dir string) ([]rattler.PathsEntry, error) {
	pj := filepath.Join(dir, "info", "paths.json")
	f, err := os.Open(pj)
	if err != nil {
		return nil, &rattler.DomainError{
			Inner:  err,
			Kind:   rattler.ErrInvalid,
			Disc:   rattler.DiscReadPathsJson,
			Path:   pj,
			Reason: "failed to read paths.json",
			Op:     "validate.Directory",
		}
	}
	defer f.Close()

	var doc pathsJSON
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, &rattler.DomainError{
			Inner:  err,
			Kind:   rattler.ErrInvalid,
			Disc:   rattler.DiscReadPathsJson,
			Path:   pj,
			Reason: "malformed paths.json",
			Op:     "validate.Directory",
		}
	}

	out := make([]rattler.PathsEntry, len(doc.Paths))
	for i, e := range doc.Paths {
		entry := rattler.PathsEntry{
			RelativePath: e.RelativePath,
			PathType:     rattler.LinkType(e.PathType),
			NoLink:       e.NoLink,
			SHA256:       e.SHA256,
			SizeInBytes:  e.SizeInBytes,
		}
		if err := validateEntry(dir, entry); err != nil {
			return nil, err
		}
		out[i] = entry
	}
	return out, nil
}

// validateEntry checks a single paths.json entry against the file system.
func validateEntry(dir string, entry rattler.PathsEntry) error {
	path := filepath.Join(dir, entry.RelativePath)
	fi, err := os.Lstat(path)
	switch {
	case os.IsNotExist(err):
		return domainErr(entry, path, rattler.DiscValidationNotFound, "the path does not exist", nil)
	case err != nil:
		return domainErr(entry, path, rattler.DiscValidationIo, "failed to retrieve file metadata", err)
	}

	switch entry.PathType {
	case rattler.LinkHardLink:
		return validateHardLink(path, entry, fi)
	case rattler.LinkSoftLink:
		return validateSoftLink(path, entry, fi)
	case rattler.LinkDirectory:
		return validateDirectoryEntry(path, entry, fi)
	default:
		return domainErr(entry, path, rattler.DiscValidationIo, fmt.Sprintf("unknown path type %q", entry.PathType), nil)
	}
}

func validateHardLink(path string, entry rattler.PathsEntry, fi os.FileInfo) error {
	if entry.SizeInBytes != 0 && entry.SizeInBytes != fi.Size() {
		return domainErr(entry, path, rattler.DiscValidationIncorrectSize,
			fmt.Sprintf("expected size %d but file on disk is %d", entry.SizeInBytes, fi.Size()), nil)
	}
	if entry.SHA256 == "" {
		return nil
	}
	sum, err := computeFileSHA256(path)
	if err != nil {
		return domainErr(entry, path, rattler.DiscValidationIo, "failed to hash file", err)
	}
	if sum != entry.SHA256 {
		return domainErr(entry, path, rattler.DiscValidationHashMismatch,
			fmt.Sprintf("expected sha256 %s but file on disk is %s", entry.SHA256, sum), nil)
	}
	return nil
}

func validateSoftLink(path string, entry rattler.PathsEntry, fi os.FileInfo) error {
	if fi.Mode()&os.ModeSymlink == 0 {
		return domainErr(entry, path, rattler.DiscValidationExpectedSymlink, "expected a symbolic link", nil)
	}
	return nil
}

func validateDirectoryEntry(path string, entry rattler.PathsEntry, fi os.FileInfo) error {
	if !fi.IsDir() {
		return domainErr(entry, path, rattler.DiscValidationExpectedDir, "expected a directory", nil)
	}
	return nil
}

// computeFileSHA256 hashes the file at path.
func computeFileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func domainErr(entry rattler.PathsEntry, path string, disc rattler.Discriminant, reason string, inner error) error {
	return &rattler.DomainError{
		Inner:  inner,
		Kind:   rattler.ErrInvalid,
		Disc:   disc,
		Path:   entry.RelativePath,
		Reason: fmt.Sprintf("%s: %s", path, reason),
		Op:     "validate.Directory",
	}
}
