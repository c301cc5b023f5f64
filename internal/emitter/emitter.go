// Package emitter turns per-tag batch summaries into the fix document consumed
// by the floor-plan client.
package emitter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"beacon-locator/internal/bases"
	"beacon-locator/internal/batch"
	"beacon-locator/internal/logging"
	"beacon-locator/internal/motion"
	"beacon-locator/internal/multilat"
)

// Fix is one located tag in floor-plan pixels.
type Fix struct {
	TagID        string   `json:"bdaddr"`
	Loc          [2]int64 `json:"loc"`
	Heading      float64  `json:"heading"` // degrees, -1 when unknown
	AccelTimeout int      `json:"accelTimeout"`
}

// Document is the output of one batch.
type Document struct {
	Chairs []Fix `json:"chairs"`
}

// MarshalJSON renders an empty document as {"chairs":[]}.
func (d Document) MarshalJSON() ([]byte, error) {
	chairs := d.Chairs
	if chairs == nil {
		chairs = []Fix{}
	}
	return json.Marshal(struct {
		Chairs []Fix `json:"chairs"`
	}{chairs})
}

// Display maps engine metres onto floor-plan pixels.
type Display struct {
	Scale   float64
	YOffset float64
}

// DefaultDisplay is the reference floor plan.
var DefaultDisplay = Display{Scale: 65, YOffset: 634}

// maxPixel bounds the coordinates Pixel can represent exactly.
const maxPixel = 1 << 53

// InRange reports whether p maps to finite pixel coordinates Pixel can
// represent.
func (d Display) InRange(p bases.Point) bool {
	for _, v := range []float64{d.Scale * p.X, d.YOffset - d.Scale*p.Y} {
		if math.IsNaN(v) || math.Abs(v) >= maxPixel {
			return false
		}
	}
	return true
}

// Pixel converts p. Rounding is half away from zero; y grows downwards.
// Points outside InRange have no defined result.
func (d Display) Pixel(p bases.Point) [2]int64 {
	return [2]int64{
		int64(math.Round(d.Scale * p.X)),
		int64(math.Round(d.YOffset - d.Scale*p.Y)),
	}
}

// Stats describes what happened to the tags of one batch.
type Stats struct {
	Tags       int // tags in the batch
	Uncovered  int // tags missing at least one base
	Failed     int // tags with no usable position
	Degenerate map[multilat.Degeneracy]int
}

// Emitter applies the coverage gate, locates qualifying tags and advances
// their motion countdown. It owns the tracker; batches must not be emitted
// concurrently.
type Emitter struct {
	reg     *bases.Registry
	engine  *multilat.Engine
	tracker *motion.Tracker
	display Display
	log     *slog.Logger
}

// New returns an emitter. All bases in reg must hear a tag for it to be located.
func New(reg *bases.Registry, engine *multilat.Engine, tracker *motion.Tracker, display Display, log *slog.Logger) (*Emitter, error) {
	if reg == nil || engine == nil || tracker == nil {
		return nil, fmt.Errorf("emitter needs a registry, an engine and a tracker")
	}
	if display.Scale <= 0 {
		return nil, fmt.Errorf("display scale must be positive, got %.2f", display.Scale)
	}
	return &Emitter{
		reg:     reg,
		engine:  engine,
		tracker: tracker,
		display: display,
		log:     logging.OrDiscard(log),
	}, nil
}

// Tracker returns the motion tracker the emitter updates.
func (e *Emitter) Tracker() *motion.Tracker { return e.tracker }

// Emit builds the document for one batch. Tags keep their batch order.
// Only tags that pass the coverage gate touch the motion tracker.
func (e *Emitter) Emit(tags []*batch.TagSummary) (Document, Stats) {
	doc := Document{Chairs: []Fix{}}
	stats := Stats{Tags: len(tags), Degenerate: make(map[multilat.Degeneracy]int)}
	required := e.reg.IDs()

	for _, tag := range tags {
		if !tag.Covers(required) {
			stats.Uncovered++
			e.log.Debug("tag not covered by every base", "tag", tag.TagID, "heard_by", tag.BaseIDs())
			continue
		}

		est, err := e.engine.Locate(tag.RSSIMeans)
		if errors.Is(err, multilat.ErrNonFinite) {
			stats.Degenerate[multilat.NonFinite]++
		}
		if err == nil && !e.display.InRange(est.Pos) {
			err = fmt.Errorf("position (%g, %g) is off the floor plan", est.Pos.X, est.Pos.Y)
		}
		if err != nil {
			stats.Failed++
			e.log.Warn("failed to locate tag", "tag", tag.TagID, "rssi", tag.RSSIMeans, "error", err)
			continue
		}
		if est.Degenerate != multilat.Regular {
			stats.Degenerate[est.Degenerate]++
			e.log.Debug("degenerate estimate", "tag", tag.TagID, "kind", est.Degenerate.String())
		}

		heading := batch.NoHeading
		if tag.HasHeading {
			heading = tag.Heading
		}

		doc.Chairs = append(doc.Chairs, Fix{
			TagID:        tag.TagID,
			Loc:          e.display.Pixel(est.Pos),
			Heading:      heading,
			AccelTimeout: e.tracker.Update(tag.TagID, tag.MaxMotion),
		})
	}
	return doc, stats
}
