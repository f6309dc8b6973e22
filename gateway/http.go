package gateway

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/quay/zlog"

	rattler "github.com/mamba-org/rattler-go"
	"github.com/mamba-org/rattler-go/config"
	"github.com/mamba-org/rattler-go/transport"
)

// httpSource fetches a subdir's repodata over HTTP(S) via the caller's
// Fetcher capability, honoring conditional requests and the channel's
// decoder-enablement knobs.
type httpSource struct {
	base    *url.URL
	subdir  string
	fetcher transport.Fetcher
	auth    transport.AuthProvider
	cc      config.ChannelConfig
}

// variant is one candidate repodata file this source will probe for, in
// probe order.
type variant struct {
	suffix  string
	decode  func(io.Reader, string, string) ([]rattler.RepoDataRecord, error)
	enabled func(config.ChannelConfig) bool
}

func variants() []variant {
	return []variant{
		{".json.zst", decodeZstdRepodata, func(cc config.ChannelConfig) bool { return cc.ZstdEnabled }},
		{"_shards.msgpack.zst", decodeShardedRepodata, func(cc config.ChannelConfig) bool { return cc.ShardedEnabled }},
		{".json.bz2", decodeBz2Repodata, func(cc config.ChannelConfig) bool { return cc.Bz2Enabled }},
		{".json", decodeRepodataJSON, func(config.ChannelConfig) bool { return true }},
	}
}

func (s *httpSource) fetch(ctx context.Context, prev *CachePolicy) (Payload, error) {
	if s.cc.CacheAction == config.UseCacheOnly && prev != nil {
		return Payload{Policy: *prev}, nil
	}

	header := http.Header{}
	if prev != nil {
		if prev.ETag != "" {
			header.Set("If-None-Match", prev.ETag)
		}
		if prev.LastModified != "" {
			header.Set("If-Modified-Since", prev.LastModified)
		}
	}
	if s.auth != nil {
		cred, err := s.auth.CredentialFor(ctx, s.base.Host)
		if err != nil {
			return Payload{}, &rattler.DomainError{Inner: err, Kind: rattler.ErrTransient, Disc: rattler.DiscIoError, Path: s.base.Host, Reason: "failed to resolve credential", Op: "httpSource.fetch"}
		}
		if cred.Scheme != "" {
			header.Set("Authorization", cred.Scheme+" "+cred.Value)
		}
	}

	var lastErr error
	for _, v := range variants() {
		if !v.enabled(s.cc) {
			continue
		}
		u := s.base.JoinPath(s.subdir, "repodata"+v.suffix).String()
		resp, err := s.fetcher.Get(ctx, u, header)
		if err != nil {
			lastErr = err
			continue
		}
		payload, done, err := s.handleResponse(ctx, u, resp, v, prev)
		resp.Body.Close()
		if done {
			return payload, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = &rattler.DomainError{
			Kind:   rattler.ErrInvalid,
			Disc:   rattler.DiscSubdirNotFound,
			Path:   s.base.JoinPath(s.subdir).String(),
			Reason: "no enabled repodata variant could be fetched",
			Op:     "httpSource.fetch",
		}
	}
	return Payload{}, lastErr
}

// handleResponse interprets one variant's HTTP response. done reports
// whether fetch should return immediately with (payload, err); when done is
// false, err (if any) is recorded as the running lastErr and the next
// variant is tried.
func (s *httpSource) handleResponse(ctx context.Context, u string, resp *transport.Response, v variant, prev *CachePolicy) (Payload, bool, error) {
	switch resp.Status {
	case http.StatusNotModified:
		zlog.Debug(ctx).Str("url", u).Msg("gateway: cache revalidated")
		if prev == nil {
			return Payload{}, false, &rattler.DomainError{
				Kind:   rattler.ErrTransient,
				Disc:   rattler.DiscIoError,
				Path:   u,
				Reason: "received 304 Not Modified without a prior cache policy",
				Op:     "httpSource.fetch",
			}
		}
		return Payload{Policy: prev.Refresh(timeNow())}, true, nil
	case http.StatusOK:
		records, err := v.decode(resp.Body, s.base.String(), s.subdir)
		if err != nil {
			return Payload{}, false, err
		}
		return Payload{
			Records: records,
			Policy: CachePolicy{
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
				FetchedAt:    timeNow(),
				MaxAge:       parseMaxAge(resp.Header.Get("Cache-Control")),
			},
		}, true, nil
	case http.StatusNotFound:
		return Payload{}, false, &rattler.DomainError{
			Kind:   rattler.ErrInvalid,
			Disc:   rattler.DiscSubdirNotFound,
			Path:   u,
			Reason: "subdir repodata not found",
			Op:     "httpSource.fetch",
		}
	default:
		return Payload{}, false, &rattler.DomainError{
			Kind:   rattler.ErrTransient,
			Disc:   rattler.DiscIoError,
			Path:   u,
			Reason: fmt.Sprintf("unexpected status %d", resp.Status),
			Op:     "httpSource.fetch",
		}
	}
}

func decodeZstdRepodata(r io.Reader, channelURL, subdir string) ([]rattler.RepoDataRecord, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, &rattler.DomainError{Inner: err, Kind: rattler.ErrInvalid, Disc: rattler.DiscDecodingError, Reason: "malformed zstd stream", Op: "gateway.decodeZstdRepodata"}
	}
	defer zr.Close()
	return decodeRepodataJSON(zr, channelURL, subdir)
}

func decodeBz2Repodata(r io.Reader, channelURL, subdir string) ([]rattler.RepoDataRecord, error) {
	return decodeRepodataJSON(bzip2.NewReader(r), channelURL, subdir)
}

// parseMaxAge extracts max-age from a Cache-Control header, defaulting to
// one hour when absent or malformed.
func parseMaxAge(cc string) time.Duration {
	const def = time.Hour
	if cc == "" {
		return def
	}
	var secs int
	if _, err := fmt.Sscanf(cc, "max-age=%d", &secs); err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// timeNow is a seam so tests can observe deterministic cache timestamps
// without depending on wall-clock time.
var timeNow = time.Now
