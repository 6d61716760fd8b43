package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SketchOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sketchd_sketch_ops_total",
		Help: "Sketch operations by sketch type and operation",
	}, []string{"type", "op"})

	SketchBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sketchd_sketch_bytes",
		Help: "Serialized size of each resident sketch",
	}, []string{"name"})

	RegistryEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sketchd_registry_evictions_total",
		Help: "Sketches evicted from the in-memory registry",
	})

	IngestRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sketchd_ingest_rows_total",
		Help: "Rows folded into sketches from SQL tables",
	}, []string{"type"})

	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sketchd_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2.0, 16),
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(SketchOps)
	prometheus.MustRegister(SketchBytes)
	prometheus.MustRegister(RegistryEvictions)
	prometheus.MustRegister(IngestRows)
	prometheus.MustRegister(RequestDuration)
}

func IncOp(sketchType, op string) {
	SketchOps.WithLabelValues(sketchType, op).Inc()
}

func AddOps(sketchType, op string, n int) {
	SketchOps.WithLabelValues(sketchType, op).Add(float64(n))
}

func SetSketchBytes(name string, size int) {
	SketchBytes.WithLabelValues(name).Set(float64(size))
}

func DropSketch(name string) {
	SketchBytes.DeleteLabelValues(name)
}

func IncEviction() {
	RegistryEvictions.Inc()
}

func AddIngestRows(sketchType string, n int64) {
	IngestRows.WithLabelValues(sketchType).Add(float64(n))
}

func ObserveRequest(route string, seconds float64) {
	RequestDuration.WithLabelValues(route).Observe(seconds)
}
