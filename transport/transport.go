// Package transport declares the capability interfaces this module expects
// its embedding application to provide: network access, credentials, and
// progress reporting. The core never constructs a concrete HTTP client,
// credential store, or global logger/progress sink; it only calls through
// these interfaces.
package transport

import (
	"context"
	"io"
	"net/http"
)

//go:generate -command mockgen go run go.uber.org/mock/mockgen -package=transport -self_package=github.com/mamba-org/rattler-go/transport
//go:generate mockgen -destination=./fetcher_mock.go github.com/mamba-org/rattler-go/transport Fetcher
//go:generate mockgen -destination=./authprovider_mock.go github.com/mamba-org/rattler-go/transport AuthProvider
//go:generate mockgen -destination=./reporter_mock.go github.com/mamba-org/rattler-go/transport Reporter

// Response is the result of a Fetcher.Get call.
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// Fetcher performs HTTP GET requests with caller-supplied headers (used for
// conditional requests: If-None-Match/If-Modified-Since). Implementations
// are expected to apply their own retry policy; the core does not retry.
type Fetcher interface {
	Get(ctx context.Context, url string, header http.Header) (*Response, error)
}

// Credential is the bearer/basic/token material an AuthProvider returns for
// a given host.
type Credential struct {
	Scheme string // "Bearer", "Basic", or "" for no credential
	Value  string
}

// AuthProvider resolves credential material for a host. A Provider that has
// no credential for host returns the zero Credential and a nil error.
type AuthProvider interface {
	CredentialFor(ctx context.Context, host string) (Credential, error)
}

// Reporter receives progress notifications for long-running operations. All
// methods must return promptly; a Reporter that blocks stalls the
// operation it is reporting on.
type Reporter interface {
	OnDownloadStart(ctx context.Context, url string, total int64)
	OnDownloadProgress(ctx context.Context, url string, downloaded, total int64)
	OnDownloadComplete(ctx context.Context, url string)
	OnLinkStart(ctx context.Context, pkg string)
	OnLinkComplete(ctx context.Context, pkg string)
	OnValidateStart(ctx context.Context, path string)
	OnValidateComplete(ctx context.Context, path string)
}

// NopReporter implements Reporter by doing nothing, for callers that don't
// need progress feedback.
type NopReporter struct{}

func (NopReporter) OnDownloadStart(context.Context, string, int64)          {}
func (NopReporter) OnDownloadProgress(context.Context, string, int64, int64) {}
func (NopReporter) OnDownloadComplete(context.Context, string)              {}
func (NopReporter) OnLinkStart(context.Context, string)                     {}
func (NopReporter) OnLinkComplete(context.Context, string)                  {}
func (NopReporter) OnValidateStart(context.Context, string)                 {}
func (NopReporter) OnValidateComplete(context.Context, string)              {}

var _ Reporter = NopReporter{}
