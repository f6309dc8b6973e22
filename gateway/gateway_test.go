package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/mamba-org/rattler-go/config"
	"github.com/mamba-org/rattler-go/transport"
)

// fakeFetcher serves canned repodata.json bodies and counts every Get call
// across all URLs, so tests can assert on coalescing.
type fakeFetcher struct {
	body  []byte
	calls atomic.Int64
}

func (f *fakeFetcher) Get(_ context.Context, url string, _ http.Header) (*transport.Response, error) {
	f.calls.Add(1)
	return &transport.Response{
		Status: http.StatusOK,
		Header: http.Header{},
		Body:   io.NopCloser(bytes.NewReader(f.body)),
	}, nil
}

const linuxPython = `{
  "packages": {},
  "packages.conda": {
    "python-3.11.0-h9a09f29_0.conda": {
      "name": "python",
      "version": "3.11.0",
      "build": "h9a09f29_0",
      "build_number": 0,
      "subdir": "linux-64",
      "depends": ["libffi >=3.4,<4", "openssl >=3.0"]
    },
    "libffi-3.4.2-h9c3ff4c_0.conda": {
      "name": "libffi",
      "version": "3.4.2",
      "build": "h9c3ff4c_0",
      "build_number": 0,
      "subdir": "linux-64",
      "depends": []
    }
  }
}`

func TestLoadRecordsRecursiveExpandsDependencyClosure(t *testing.T) {
	f := &fakeFetcher{body: []byte(linuxPython)}
	gw := New(f, nil, &config.Config{})

	records, err := gw.LoadRecordsRecursive(context.Background(),
		[]string{"https://repo.example/conda"}, []string{"linux-64"}, []string{"python"})
	if err != nil {
		t.Fatalf("LoadRecordsRecursive: %v", err)
	}

	names := map[string]bool{}
	for _, r := range records {
		names[r.Name] = true
	}
	if !names["python"] || !names["libffi"] {
		t.Fatalf("expected closure to include python and libffi, got %v", names)
	}
	// openssl is referenced in depends but never published by this fake repo,
	// so it should simply be absent from the result, not an error.
	if names["openssl"] {
		t.Fatalf("did not expect openssl in result")
	}
}

func TestLoadRecordsRecursiveCoalescesSubdirFetches(t *testing.T) {
	f := &fakeFetcher{body: []byte(linuxPython)}
	// Only the plain repodata.json variant is enabled, so one subdir fetch
	// is exactly one Get call.
	gw := New(f, nil, &config.Config{ChannelConfig: map[string]config.ChannelConfig{
		"https://repo.example/conda": {CacheAction: config.CacheOrFetch},
	}})

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := gw.LoadRecordsRecursive(context.Background(),
				[]string{"https://repo.example/conda"}, []string{"linux-64"}, []string{"python"})
			errs <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("LoadRecordsRecursive: %v", err)
		}
	}

	if got := f.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one fetch across coalesced callers, got %d", got)
	}
}
