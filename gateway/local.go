package gateway

import (
	"context"
	"os"
	"path/filepath"
	"time"

	rattler "github.com/mamba-org/rattler-go"
)

// localSource reads repodata.json directly from disk, for offline or
// vendored channels, bypassing the Fetcher capability entirely.
type localSource struct {
	root   string
	subdir string
}

func (s *localSource) fetch(_ context.Context, _ *CachePolicy) (Payload, error) {
	p := filepath.Join(s.root, s.subdir, "repodata.json")
	f, err := os.Open(p)
	if err != nil {
		return Payload{}, &rattler.DomainError{
			Inner:  err,
			Kind:   rattler.ErrTransient,
			Disc:   rattler.DiscIoError,
			Path:   p,
			Reason: "failed to open local repodata",
			Op:     "localSource.fetch",
		}
	}
	defer f.Close()

	records, err := decodeRepodataJSON(f, s.root, s.subdir)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Records: records,
		Policy:  CachePolicy{FetchedAt: time.Now(), MaxAge: time.Hour},
	}, nil
}
