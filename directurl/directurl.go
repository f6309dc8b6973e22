// Package directurl resolves a single package archive URL or local file
// into a RepoDataRecord without indexing a whole subdir.
package directurl

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	rattler "github.com/mamba-org/rattler-go"
	"github.com/mamba-org/rattler-go/archive"
	"github.com/mamba-org/rattler-go/packagecache"
	"github.com/mamba-org/rattler-go/transport"
	"github.com/mamba-org/rattler-go/version"
)

// Query resolves URL to a single RepoDataRecord. SHA256/MD5 are hints the
// caller may already know (e.g. from an explicit lockfile entry); they are
// used only when the archive itself doesn't let this package compute them
// directly.
type Query struct {
	URL     string
	SHA256  string
	MD5     string
	Cache   *packagecache.Cache // required when URL is not a local file
	Fetcher transport.Fetcher   // required when URL is not a local file
}

// Resolve obtains the archive (locally or via Cache/Fetcher), reads its
// info/index.json, and returns the resulting record.
func (q *Query) Resolve(ctx context.Context) (*rattler.RepoDataRecord, error) {
	if p, ok := localPath(q.URL); ok {
		return q.resolveLocalFile(p)
	}
	return q.resolveRemote(ctx)
}

// localPath reports whether rawURL names a local file, either as a bare
// filesystem path or a "file://" URL, returning the filesystem path.
func localPath(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return rawURL, true
	}
	if u.Scheme == "file" {
		return u.Path, true
	}
	return "", false
}

func (q *Query) resolveLocalFile(p string) (*rattler.RepoDataRecord, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, &rattler.DomainError{Inner: err, Kind: rattler.ErrTransient, Disc: rattler.DiscIoError, Path: p, Reason: "failed to open package archive", Op: "directurl.resolveLocalFile"}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, &rattler.DomainError{Inner: err, Kind: rattler.ErrTransient, Disc: rattler.DiscIoError, Path: p, Reason: "failed to stat package archive", Op: "directurl.resolveLocalFile"}
	}

	sha, md5sum, err := hashFile(f)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	destDir, err := os.MkdirTemp("", "rattler-directurl-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(destDir)

	if err := extractArchive(f, fi.Size(), filepath.Base(p), destDir); err != nil {
		return nil, err
	}

	idx, err := readIndexJSON(destDir)
	if err != nil {
		return nil, err
	}
	record := recordFromIndexJSON(idx, fi.Size(), firstNonEmpty(sha, q.SHA256), firstNonEmpty(md5sum, q.MD5))
	record.URL = q.URL
	record.FileName = filepath.Base(p)
	return &record, nil
}

func (q *Query) resolveRemote(ctx context.Context) (*rattler.RepoDataRecord, error) {
	ident, ok := packagecache.IdentifierFromURL(q.URL)
	if !ok {
		return nil, &rattler.DomainError{
			Kind:   rattler.ErrInvalid,
			Disc:   rattler.DiscInvalidPackageName,
			Path:   q.URL,
			Reason: "could not determine archive identifier from url filename",
			Op:     "directurl.resolveRemote",
		}
	}
	key := rattler.CacheKey{
		Name:    strings.ToLower(ident.Name),
		Version: ident.Version,
		Build:   ident.Build,
		SHA256:  q.SHA256,
		MD5:     q.MD5,
	}

	var computedSHA256, computedMD5 string
	var computedSize int64
	dir, err := q.Cache.GetOrFetch(ctx, key, func(ctx context.Context, dst string) error {
		sha, md5sum, size, err := q.fetchAndExtract(ctx, dst)
		if err != nil {
			return err
		}
		computedSHA256, computedMD5, computedSize = sha, md5sum, size
		return nil
	})
	if err != nil {
		return nil, err
	}

	idx, err := readIndexJSON(dir)
	if err != nil {
		return nil, err
	}
	record := recordFromIndexJSON(idx, computedSize, firstNonEmpty(computedSHA256, q.SHA256), firstNonEmpty(computedMD5, q.MD5))
	record.URL = q.URL
	record.FileName = lastPathSegment(q.URL)
	return &record, nil
}

func (q *Query) fetchAndExtract(ctx context.Context, dst string) (sha256Hex, md5Hex string, size int64, err error) {
	resp, err := q.Fetcher.Get(ctx, q.URL, nil)
	if err != nil {
		return "", "", 0, &rattler.DomainError{Inner: err, Kind: rattler.ErrTransient, Disc: rattler.DiscIoError, Path: q.URL, Reason: "failed to fetch package archive", Op: "directurl.fetchAndExtract"}
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp("", "rattler-archive-*")
	if err != nil {
		return "", "", 0, err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	h256 := sha256.New()
	hmd5 := md5.New()
	n, err := io.Copy(io.MultiWriter(tmp, h256, hmd5), resp.Body)
	if err != nil {
		return "", "", 0, &rattler.DomainError{Inner: err, Kind: rattler.ErrTransient, Disc: rattler.DiscIoError, Path: q.URL, Reason: "failed reading package archive body", Op: "directurl.fetchAndExtract"}
	}

	if err := extractArchive(tmp, n, lastPathSegment(q.URL), dst); err != nil {
		return "", "", 0, err
	}
	return hex.EncodeToString(h256.Sum(nil)), hex.EncodeToString(hmd5.Sum(nil)), n, nil
}

func extractArchive(ra io.ReaderAt, size int64, filename, destDir string) error {
	switch archive.KindFromFilename(filename) {
	case archive.KindTarBz2:
		return archive.ExtractTarBz2(io.NewSectionReader(ra, 0, size), destDir)
	case archive.KindConda:
		return archive.ExtractConda(ra, size, destDir)
	default:
		return &rattler.DomainError{Kind: rattler.ErrInvalid, Disc: rattler.DiscDecodingError, Path: filename, Reason: "unrecognized package archive extension", Op: "directurl.extractArchive"}
	}
}

func hashFile(r io.Reader) (sha256Hex, md5Hex string, err error) {
	h256 := sha256.New()
	hmd5 := md5.New()
	if _, err := io.Copy(io.MultiWriter(h256, hmd5), r); err != nil {
		return "", "", err
	}
	return hex.EncodeToString(h256.Sum(nil)), hex.EncodeToString(hmd5.Sum(nil)), nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func lastPathSegment(rawURL string) string {
	return path.Base(strings.TrimRight(rawURL, "/"))
}

// indexJSON mirrors the relevant subset of a package archive's
// info/index.json.
type indexJSON struct {
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Build         string   `json:"build"`
	BuildNumber   uint64   `json:"build_number"`
	Subdir        string   `json:"subdir"`
	Depends       []string `json:"depends"`
	Constrains    []string `json:"constrains"`
	TrackFeatures []string `json:"track_features"`
	Features      []string `json:"features"`
	License       string   `json:"license"`
	LicenseFamily string   `json:"license_family"`
	Timestamp     int64    `json:"timestamp"`
	Noarch        string   `json:"noarch"`
}

func readIndexJSON(dir string) (indexJSON, error) {
	f, err := os.Open(filepath.Join(dir, "info", "index.json"))
	if err != nil {
		return indexJSON{}, &rattler.DomainError{Inner: err, Kind: rattler.ErrInvalid, Disc: rattler.DiscDecodingError, Path: dir, Reason: "failed to open info/index.json", Op: "directurl.readIndexJSON"}
	}
	defer f.Close()

	var idx indexJSON
	if err := json.NewDecoder(f).Decode(&idx); err != nil {
		return indexJSON{}, &rattler.DomainError{Inner: err, Kind: rattler.ErrInvalid, Disc: rattler.DiscDecodingError, Path: dir, Reason: "malformed info/index.json", Op: "directurl.readIndexJSON"}
	}
	return idx, nil
}

func recordFromIndexJSON(idx indexJSON, size int64, sha256Hex, md5Hex string) rattler.RepoDataRecord {
	v, err := version.Parse(idx.Version)
	if err != nil {
		v = version.MustParse("0")
	}
	return rattler.RepoDataRecord{
		PackageRecord: rattler.PackageRecord{
			Name:          idx.Name,
			Version:       v,
			Build:         idx.Build,
			BuildNumber:   idx.BuildNumber,
			Subdir:        idx.Subdir,
			Depends:       idx.Depends,
			Constrains:    idx.Constrains,
			TrackFeatures: idx.TrackFeatures,
			Features:      idx.Features,
			License:       idx.License,
			LicenseFamily: idx.LicenseFamily,
			Timestamp:     idx.Timestamp,
			Noarch:        rattler.NoarchKind(idx.Noarch),
			SHA256:        sha256Hex,
			MD5:           md5Hex,
			Size:          size,
		},
	}
}
