// Package cas implements a content-addressed store: files keyed by their
// SHA-256 digest, written through a temporary staging file and atomically
// renamed into place, following the staging idiom of
// [github.com/mamba-org/rattler-go/toolkit/spool] but rooted at a
// caller-chosen directory instead of the process temp directory.
package cas

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/quay/zlog"

	rattler "github.com/mamba-org/rattler-go"
)

// Store is a content-addressed blob store rooted at a directory.
//
// The zero Store is not usable; construct one with Open.
type Store struct {
	root *os.Root
	dir  string
}

// Open opens (creating if necessary) a content-addressed store rooted at
// dir. The returned Store owns dir's ".tmp" staging subdirectory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, ".tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("cas: creating store root: %w", err)
	}
	r, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("cas: opening store root: %w", err)
	}
	return &Store{root: r, dir: dir}, nil
}

// Close releases the Store's root handle.
func (s *Store) Close() error { return s.root.Close() }

// pathForHash splits a 64-character hex SHA-256 digest into a fan-out path
// of the form aa/bb/cccc... so that each of the two fan-out levels holds at
// most 256 entries.
func pathForHash(hexSum string) (string, error) {
	if len(hexSum) != sha256.Size*2 {
		return "", fmt.Errorf("cas: malformed digest %q", hexSum)
	}
	return filepath.Join(hexSum[0:2], hexSum[2:4], hexSum[4:]), nil
}

// Has reports whether the store already contains the blob named by sum.
func (s *Store) Has(sum string) bool {
	p, err := pathForHash(sum)
	if err != nil {
		return false
	}
	_, err = s.root.Stat(p)
	return err == nil
}

// Path returns the on-disk path a blob named sum would live at, whether or
// not it currently exists.
func (s *Store) Path(sum string) (string, error) {
	p, err := pathForHash(sum)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, p), nil
}

// OpenBlob returns a reader for the blob named sum.
func (s *Store) OpenBlob(sum string) (*os.File, error) {
	p, err := pathForHash(sum)
	if err != nil {
		return nil, err
	}
	return s.root.Open(p)
}

// WriteReader streams r through a SHA-256 hashing writer into a staging
// file under ".tmp", then atomically persists it under its computed digest.
// An AlreadyExists error on the final rename is treated as success, since
// two writers racing to store identical content both succeed.
//
// WriteReader does not trust a caller-supplied digest: the returned Digest
// is always the one actually computed from the stream.
func (s *Store) WriteReader(ctx context.Context, r io.Reader) (rattler.Digest, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.dir, ".tmp"), "blob-*")
	if err != nil {
		return rattler.Digest{}, fmt.Errorf("cas: creating staging file: %w", err)
	}
	tmpName := tmp.Name()
	abort := true
	defer func() {
		if abort {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	h := sha256.New()
	if _, err := io.Copy(tmp, io.TeeReader(r, h)); err != nil {
		return rattler.Digest{}, fmt.Errorf("cas: writing staging file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return rattler.Digest{}, fmt.Errorf("cas: syncing staging file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return rattler.Digest{}, fmt.Errorf("cas: closing staging file: %w", err)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	dg, err := rattler.NewDigest(rattler.SHA256, h.Sum(nil))
	if err != nil {
		return rattler.Digest{}, err
	}

	rel, err := pathForHash(sum)
	if err != nil {
		return rattler.Digest{}, err
	}
	if err := os.MkdirAll(filepath.Join(s.dir, filepath.Dir(rel)), 0o755); err != nil {
		return rattler.Digest{}, fmt.Errorf("cas: creating fan-out directory: %w", err)
	}
	dst := filepath.Join(s.dir, rel)
	if err := os.Rename(tmpName, dst); err != nil {
		if !errors.Is(err, os.ErrExist) {
			return rattler.Digest{}, fmt.Errorf("cas: persisting blob: %w", err)
		}
		os.Remove(tmpName)
	}
	abort = false

	zlog.Debug(ctx).Str("digest", sum).Msg("cas: blob persisted")
	return dg, nil
}

// WriteBytes is the in-memory fast path: it hashes buf and, if the target
// blob already exists, returns immediately without touching the staging
// area or performing any further I/O.
func (s *Store) WriteBytes(ctx context.Context, buf []byte) (rattler.Digest, error) {
	sum := sha256.Sum256(buf)
	hexSum := hex.EncodeToString(sum[:])
	dg, err := rattler.NewDigest(rattler.SHA256, sum[:])
	if err != nil {
		return rattler.Digest{}, err
	}

	if s.Has(hexSum) {
		return dg, nil
	}

	rel, err := pathForHash(hexSum)
	if err != nil {
		return rattler.Digest{}, err
	}
	if err := os.MkdirAll(filepath.Join(s.dir, filepath.Dir(rel)), 0o755); err != nil {
		return rattler.Digest{}, fmt.Errorf("cas: creating fan-out directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Join(s.dir, ".tmp"), "blob-*")
	if err != nil {
		return rattler.Digest{}, fmt.Errorf("cas: creating staging file: %w", err)
	}
	tmpName := tmp.Name()
	abort := true
	defer func() {
		if abort {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(buf); err != nil {
		return rattler.Digest{}, fmt.Errorf("cas: writing staging file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return rattler.Digest{}, fmt.Errorf("cas: closing staging file: %w", err)
	}

	dst := filepath.Join(s.dir, rel)
	if err := os.Rename(tmpName, dst); err != nil && !errors.Is(err, os.ErrExist) {
		return rattler.Digest{}, fmt.Errorf("cas: persisting blob: %w", err)
	}
	abort = false

	zlog.Debug(ctx).Str("digest", hexSum).Msg("cas: blob persisted")
	return dg, nil
}
