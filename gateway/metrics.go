package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/mamba-org/rattler-go/gateway")
}

var subdirFetchCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "rattler",
		Subsystem: "gateway",
		Name:      "subdir_fetch_total",
		Help:      "Total number of subdir fetches, partitioned by whether the caller led the fetch or coalesced onto one already in flight.",
	},
	[]string{"result"},
)
