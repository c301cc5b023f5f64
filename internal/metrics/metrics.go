// Package metrics exposes the locator's Prometheus metrics.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the locator metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	Batches         *prometheus.CounterVec
	DroppedReadings *prometheus.CounterVec
	DecodeErrors    prometheus.Counter
	Fixes           prometheus.Counter
	UncoveredTags   prometheus.Counter
	Degenerate      *prometheus.CounterVec
	BatchDuration   prometheus.Histogram
	TrackedTags     prometheus.Gauge
	LastFixes       prometheus.Gauge
	WebClients      prometheus.Gauge
	Published       *prometheus.CounterVec
}

// New registers the metrics against reg, defaulting to the global registry
// when nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.Batches, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_batches_total",
		Help: "Sighting batches processed, labeled by result (ok or rejected).",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if c.DroppedReadings, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_dropped_readings_total",
		Help: "Sightings dropped by validation, labeled by the offending field.",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	if c.DecodeErrors, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_decode_errors_total",
		Help: "Sensor payloads that could not be decoded.",
	})); err != nil {
		return nil, err
	}
	if c.Fixes, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_fixes_total",
		Help: "Tag positions emitted.",
	})); err != nil {
		return nil, err
	}
	if c.UncoveredTags, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_uncovered_tags_total",
		Help: "Tags skipped because not every base heard them.",
	})); err != nil {
		return nil, err
	}
	if c.Degenerate, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_degenerate_estimates_total",
		Help: "Estimates that needed special handling, labeled by kind.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if c.BatchDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "beacon_batch_duration_seconds",
		Help:    "Time spent processing one batch.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})); err != nil {
		return nil, err
	}
	if c.TrackedTags, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_tracked_tags",
		Help: "Tags held by the motion tracker.",
	})); err != nil {
		return nil, err
	}
	if c.LastFixes, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_last_batch_fixes",
		Help: "Positions in the most recent fix document.",
	})); err != nil {
		return nil, err
	}
	if c.WebClients, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_websocket_clients",
		Help: "Connected websocket clients.",
	})); err != nil {
		return nil, err
	}
	if c.Published, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_published_documents_total",
		Help: "Fix documents delivered, labeled by sink and result.",
	}, []string{"sink", "result"})); err != nil {
		return nil, err
	}
	return c, nil
}

// Handler serves the registered metrics.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// BatchProcessed records one batch.
func (c *Collector) BatchProcessed(ok bool, took time.Duration) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "rejected"
	}
	c.Batches.WithLabelValues(result).Inc()
	c.BatchDuration.Observe(took.Seconds())
}

// ReadingDropped records a sighting rejected for reason.
func (c *Collector) ReadingDropped(reason string) {
	if c == nil {
		return
	}
	if reason == "" {
		reason = "malformed"
	}
	c.DroppedReadings.WithLabelValues(reason).Inc()
}

// BatchResult records the outcome of emitting one document.
func (c *Collector) BatchResult(fixes, uncovered, decodeErrors, tracked int, degenerate map[string]int) {
	if c == nil {
		return
	}
	c.Fixes.Add(float64(fixes))
	c.UncoveredTags.Add(float64(uncovered))
	c.DecodeErrors.Add(float64(decodeErrors))
	for kind, n := range degenerate {
		c.Degenerate.WithLabelValues(kind).Add(float64(n))
	}
	c.LastFixes.Set(float64(fixes))
	c.TrackedTags.Set(float64(tracked))
}

// SetWebClients records the number of live websocket clients.
func (c *Collector) SetWebClients(n int) {
	if c == nil {
		return
	}
	c.WebClients.Set(float64(n))
}

// DocumentPublished records one delivery attempt to sink.
func (c *Collector) DocumentPublished(sink string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Published.WithLabelValues(sink, result).Inc()
}

func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		var zero T
		return zero, err
	}
	return col, nil
}
