package gateway

import (
	"context"
	"net/url"

	rattler "github.com/mamba-org/rattler-go"
	"github.com/mamba-org/rattler-go/config"
	"github.com/mamba-org/rattler-go/transport"
)

// Payload is a decoded subdir listing: every package record found, plus the
// policy the caller should cache alongside it.
type Payload struct {
	Records []rattler.RepoDataRecord
	Policy  CachePolicy
}

// subdirSource is the internal capability every channel source (HTTP, OCI
// registry, local directory) implements, so the gateway's coalescing and
// caching logic is source-agnostic. A sharded index is one of the HTTP
// source's probed variants, not a separate source.
type subdirSource interface {
	fetch(ctx context.Context, prev *CachePolicy) (Payload, error)
}

// newSource dispatches on channelURL's scheme to construct the right
// subdirSource implementation.
func newSource(channelURL, subdir string, f transport.Fetcher, ap transport.AuthProvider, cc config.ChannelConfig) (subdirSource, error) {
	u, err := url.Parse(channelURL)
	if err != nil {
		return nil, &rattler.DomainError{
			Inner:  err,
			Kind:   rattler.ErrInvalid,
			Disc:   rattler.DiscInvalidUrl,
			Path:   channelURL,
			Reason: "malformed channel URL",
			Op:     "gateway.newSource",
		}
	}
	switch u.Scheme {
	case "http", "https":
		return &httpSource{base: u, subdir: subdir, fetcher: f, auth: ap, cc: cc}, nil
	case "oci":
		return newOCISource(u, subdir)
	case "file", "":
		return &localSource{root: u.Path, subdir: subdir}, nil
	default:
		return nil, &rattler.DomainError{
			Kind:   rattler.ErrInvalid,
			Disc:   rattler.DiscUnsupportedScheme,
			Path:   channelURL,
			Reason: "unsupported channel URL scheme: " + u.Scheme,
			Op:     "gateway.newSource",
		}
	}
}
