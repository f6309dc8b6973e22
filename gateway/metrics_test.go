package gateway

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/mamba-org/rattler-go/config"
)

// spanCapture is a minimal [trace.SpanExporter] that records the names of
// spans it receives, used to confirm LoadRecordsRecursive emits a span
// under whatever [trace.TracerProvider] the embedding application installs.
type spanCapture struct {
	names []string
}

func (c *spanCapture) ExportSpans(_ context.Context, spans []trace.ReadOnlySpan) error {
	for _, s := range spans {
		c.names = append(c.names, s.Name())
	}
	return nil
}

func (c *spanCapture) Shutdown(context.Context) error { return nil }

func TestLoadRecordsRecursiveEmitsSpan(t *testing.T) {
	capture := &spanCapture{}
	tp := trace.NewTracerProvider(
		trace.WithSampler(trace.AlwaysSample()),
		trace.WithSyncer(capture),
	)
	defer tp.Shutdown(context.Background())
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	f := &fakeFetcher{body: []byte(linuxPython)}
	gw := New(f, nil, &config.Config{})

	if _, err := gw.LoadRecordsRecursive(context.Background(),
		[]string{"https://repo.example/conda"}, []string{"linux-64"}, []string{"python"}); err != nil {
		t.Fatalf("LoadRecordsRecursive: %v", err)
	}

	found := false
	for _, n := range capture.names {
		if n == "Gateway.LoadRecordsRecursive" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a Gateway.LoadRecordsRecursive span, got %v", capture.names)
	}
}
