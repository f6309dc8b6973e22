package installer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/mamba-org/rattler-go/installer")
}

var opCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "rattler",
		Subsystem: "installer",
		Name:      "operations_total",
		Help:      "Total number of transaction operations processed by the install driver, partitioned by operation kind.",
	},
	[]string{"op"},
)

var linkStrategyCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "rattler",
		Subsystem: "installer",
		Name:      "link_strategy_total",
		Help:      "Total number of prefix entries linked, partitioned by the strategy used to materialize them.",
	},
	[]string{"strategy"},
)
