// Package archive extracts package archives in the two formats recognized
// by this module: the legacy ".tar.bz2" layout and the newer ".conda"
// layout (a zip containing two zstandard-compressed tars, "info-*.tar.zst"
// and "pkg-*.tar.zst").
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	rattler "github.com/mamba-org/rattler-go"
	pkgpath "github.com/mamba-org/rattler-go/pkg/path"
)

// Kind identifies an archive's on-disk format.
type Kind int

const (
	KindUnknown Kind = iota
	KindTarBz2
	KindConda
)

// KindFromFilename classifies filename by its extension.
func KindFromFilename(filename string) Kind {
	switch {
	case strings.HasSuffix(filename, ".tar.bz2"):
		return KindTarBz2
	case strings.HasSuffix(filename, ".conda"):
		return KindConda
	default:
		return KindUnknown
	}
}

// ExtractTarBz2 extracts a bzip2-compressed tar stream into destDir, which
// must already exist.
func ExtractTarBz2(r io.Reader, destDir string) error {
	return extractTar(bzip2.NewReader(r), destDir)
}

// ExtractConda extracts a ".conda" archive (a zip containing
// "info-*.tar.zst" and "pkg-*.tar.zst" members) into destDir, which must
// already exist. Extraction produces a directory containing at least
// info/index.json.
func ExtractConda(ra io.ReaderAt, size int64, destDir string) error {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return &rattler.DomainError{Inner: err, Kind: rattler.ErrInvalid, Disc: rattler.DiscDecodingError, Reason: "malformed .conda archive", Op: "archive.ExtractConda"}
	}
	found := false
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".tar.zst") {
			continue
		}
		if !strings.HasPrefix(f.Name, "info-") && !strings.HasPrefix(f.Name, "pkg-") {
			continue
		}
		if err := extractZstdTarMember(f, destDir); err != nil {
			return err
		}
		found = true
	}
	if !found {
		return &rattler.DomainError{Kind: rattler.ErrInvalid, Disc: rattler.DiscDecodingError, Reason: "no info-*.tar.zst or pkg-*.tar.zst member found", Op: "archive.ExtractConda"}
	}
	return nil
}

func extractZstdTarMember(f *zip.File, destDir string) error {
	rc, err := f.Open()
	if err != nil {
		return &rattler.DomainError{Inner: err, Kind: rattler.ErrInvalid, Disc: rattler.DiscDecodingError, Reason: "failed to open archive member " + f.Name, Op: "archive.ExtractConda"}
	}
	defer rc.Close()

	zr, err := zstd.NewReader(rc)
	if err != nil {
		return &rattler.DomainError{Inner: err, Kind: rattler.ErrInvalid, Disc: rattler.DiscDecodingError, Reason: "malformed zstd stream in " + f.Name, Op: "archive.ExtractConda"}
	}
	defer zr.Close()

	return extractTar(zr, destDir)
}

// extractTar writes every regular file, directory, and symlink entry in r
// under destDir, rejecting any entry that would escape destDir.
func extractTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &rattler.DomainError{Inner: err, Kind: rattler.ErrInvalid, Disc: rattler.DiscDecodingError, Reason: "malformed tar stream", Op: "archive.extractTar"}
		}

		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeRegularFile(target, tr, os.FileMode(hdr.Mode&0o777)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}

func writeRegularFile(target string, r io.Reader, mode os.FileMode) error {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

// safeJoin joins destDir and name, rejecting any result that escapes
// destDir (a zip-slip-style path traversal via "../" in a tar entry name).
// The escape check runs against the raw entry name so a deliberately
// malicious "../" is still rejected outright; only once an entry is
// confirmed to stay under destDir is its relative path canonicalized, to
// collapse any "./" or duplicate-slash artifacts a conforming archive
// shouldn't contain but a hand-built one might.
func safeJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, name)
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &rattler.DomainError{Kind: rattler.ErrInvalid, Disc: rattler.DiscDecodingError, Path: name, Reason: fmt.Sprintf("archive entry %q escapes destination directory", name), Op: "archive.safeJoin"}
	}
	return filepath.Join(destDir, pkgpath.CanonicalizeFileName(rel)), nil
}
