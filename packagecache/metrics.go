package packagecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/mamba-org/rattler-go/packagecache")
}

var getOrFetchCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "rattler",
		Subsystem: "packagecache",
		Name:      "get_or_fetch_total",
		Help:      "Total number of GetOrFetch calls, partitioned by whether the entry was already cached, fetched by this call, coalesced onto another caller's fetch, or failed.",
	},
	[]string{"result"},
)
