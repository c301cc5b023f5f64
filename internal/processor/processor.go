// Package processor runs one sighting batch through validation, aggregation
// and the fix emitter.
package processor

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"beacon-locator/internal/bases"
	"beacon-locator/internal/batch"
	"beacon-locator/internal/config"
	"beacon-locator/internal/emitter"
	"beacon-locator/internal/logging"
	"beacon-locator/internal/metrics"
	"beacon-locator/internal/motion"
	"beacon-locator/internal/multilat"
	"beacon-locator/internal/sensor"
)

// Config holds the collaborators of a Processor.
type Config struct {
	Registry    *bases.Registry
	Calibration sensor.Calibration
	Emitter     *emitter.Emitter
	Metrics     *metrics.Collector // optional
	Logger      *slog.Logger       // optional
}

// Processor turns batches into fix documents. Batches must be processed one
// at a time; the emitter's motion state depends on their order.
type Processor struct {
	reg     *bases.Registry
	agg     *batch.Aggregator
	emitter *emitter.Emitter
	metrics *metrics.Collector
	log     *slog.Logger
}

// NewProcessor creates a processor with the given configuration.
func NewProcessor(cfg *Config) (*Processor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("base registry cannot be nil")
	}
	if cfg.Emitter == nil {
		return nil, fmt.Errorf("emitter cannot be nil")
	}

	log := logging.OrDiscard(cfg.Logger)
	return &Processor{
		reg:     cfg.Registry,
		agg:     batch.NewAggregator(cfg.Calibration, log),
		emitter: cfg.Emitter,
		metrics: cfg.Metrics,
		log:     log,
	}, nil
}

// FromConfig wires a processor from the application configuration.
func FromConfig(cfg *config.Config, m *metrics.Collector, log *slog.Logger) (*Processor, error) {
	reg, err := bases.FromConfig(cfg.Bases)
	if err != nil {
		return nil, fmt.Errorf("invalid bases: %w", err)
	}
	method, err := multilat.ParseMethod(cfg.Estimator.Method)
	if err != nil {
		return nil, err
	}
	engine, err := multilat.NewEngine(reg, method)
	if err != nil {
		return nil, err
	}
	tracker, err := motion.NewTracker(cfg.Motion.Threshold, cfg.Motion.Window, cfg.Motion.Capacity)
	if err != nil {
		return nil, err
	}
	em, err := emitter.New(reg, engine, tracker, emitter.Display{
		Scale:   cfg.Display.Scale,
		YOffset: cfg.Display.YOffset,
	}, log)
	if err != nil {
		return nil, err
	}
	return NewProcessor(&Config{
		Registry:    reg,
		Calibration: sensor.CalibrationFromConfig(cfg.Calibration),
		Emitter:     em,
		Metrics:     m,
		Logger:      log,
	})
}

// Tracker exposes the motion state for snapshotting.
func (p *Processor) Tracker() *motion.Tracker {
	return p.emitter.Tracker()
}

// ProcessPayload handles one raw batch payload. It never fails: a payload
// that is not a JSON array is logged and yields an empty document.
func (p *Processor) ProcessPayload(payload []byte) emitter.Document {
	start := time.Now()
	sightings, err := batch.ParseBatch(payload)
	if err != nil {
		p.log.Warn("batch rejected", "bytes", len(payload), "error", err)
		p.metrics.BatchProcessed(false, time.Since(start))
		return emitter.Document{Chairs: []emitter.Fix{}}
	}
	doc := p.process(sightings)
	p.metrics.BatchProcessed(true, time.Since(start))
	return doc
}

// Process handles an already parsed batch.
func (p *Processor) Process(sightings []batch.Sighting) emitter.Document {
	start := time.Now()
	doc := p.process(sightings)
	p.metrics.BatchProcessed(true, time.Since(start))
	return doc
}

func (p *Processor) process(sightings []batch.Sighting) emitter.Document {
	readings := make([]batch.RawReading, 0, len(sightings))
	for i, s := range sightings {
		r, err := batch.Validate(s, p.reg)
		if err != nil {
			reason := ""
			var ve *batch.ValidationError
			if errors.As(err, &ve) {
				reason = ve.Field
			}
			p.metrics.ReadingDropped(reason)
			p.log.Debug("sighting dropped", "index", i, "error", err)
			continue
		}
		readings = append(readings, r)
	}

	tags := p.agg.Aggregate(readings)
	doc, stats := p.emitter.Emit(tags)

	decodeErrors := 0
	for _, t := range tags {
		decodeErrors += t.DecodeErrors
	}
	degenerate := make(map[string]int, len(stats.Degenerate))
	for kind, n := range stats.Degenerate {
		degenerate[kind.String()] = n
	}
	p.metrics.BatchResult(len(doc.Chairs), stats.Uncovered, decodeErrors, p.Tracker().Len(), degenerate)

	p.log.Debug("batch processed",
		"sightings", len(sightings),
		"readings", len(readings),
		"tags", stats.Tags,
		"fixes", len(doc.Chairs),
		"uncovered", stats.Uncovered)
	return doc
}
