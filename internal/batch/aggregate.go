package batch

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"

	"beacon-locator/internal/logging"
	"beacon-locator/internal/sensor"
)

// NoHeading is reported for a tag none of whose magnetometer payloads decoded.
const NoHeading = -1.0

// DecodedReading is a RawReading with its derived sensor values.
type DecodedReading struct {
	RawReading
	Heading   float64
	HeadingOK bool
	Motion    float64
	MotionOK  bool
}

// TagSummary is everything one batch says about one tag. It is rebuilt for
// every batch and carries nothing forward.
type TagSummary struct {
	TagID        string
	Readings     []DecodedReading
	RSSIMeans    map[int]float64 // base id -> mean RSSI over this batch
	MaxMotion    float64
	HasMotion    bool
	Heading      float64 // degrees, NoHeading when unavailable
	HasHeading   bool
	DecodeErrors int

	rssi map[int][]float64
}

// Covers reports whether the tag was heard by every base in ids.
func (s *TagSummary) Covers(ids []int) bool {
	for _, id := range ids {
		if _, ok := s.RSSIMeans[id]; !ok {
			return false
		}
	}
	return true
}

// BaseIDs returns the bases that heard the tag, ascending.
func (s *TagSummary) BaseIDs() []int {
	ids := make([]int, 0, len(s.RSSIMeans))
	for id := range s.RSSIMeans {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Aggregator groups validated readings by tag and base.
type Aggregator struct {
	cal sensor.Calibration
	log *slog.Logger
}

// NewAggregator returns an aggregator decoding headings with cal.
func NewAggregator(cal sensor.Calibration, log *slog.Logger) *Aggregator {
	return &Aggregator{cal: cal, log: logging.OrDiscard(log)}
}

// Aggregate builds one summary per distinct tag, in order of first appearance.
//
// The heading comes from the latest reading (by Time) whose magnetometer
// decoded; on equal times the later reading in batch order wins. The motion
// magnitude is the maximum over readings whose accelerometer decoded. A
// payload that fails to decode never removes the reading's RSSI.
func (a *Aggregator) Aggregate(readings []RawReading) []*TagSummary {
	var order []*TagSummary
	byTag := make(map[string]*TagSummary)

	for _, r := range readings {
		s, ok := byTag[r.TagID]
		if !ok {
			s = &TagSummary{TagID: r.TagID, Heading: NoHeading, rssi: make(map[int][]float64)}
			byTag[r.TagID] = s
			order = append(order, s)
		}
		d := a.decode(r, s)
		s.Readings = append(s.Readings, d)
		s.rssi[r.BaseID] = append(s.rssi[r.BaseID], r.RSSI)
	}

	for _, s := range order {
		a.summarise(s)
	}
	return order
}

func (a *Aggregator) decode(r RawReading, s *TagSummary) DecodedReading {
	d := DecodedReading{RawReading: r}

	if r.magnetErr != nil {
		a.decodeFailed(s, r, r.magnetErr)
	} else if h, err := sensor.DecodeHeading(r.Magnet, a.cal); err != nil {
		a.decodeFailed(s, r, err)
	} else {
		d.Heading, d.HeadingOK = h, true
	}

	if r.accelErr != nil {
		a.decodeFailed(s, r, r.accelErr)
	} else if m, err := sensor.DecodeMotionMagnitude(r.Accel); err != nil {
		a.decodeFailed(s, r, err)
	} else {
		d.Motion, d.MotionOK = m, true
	}
	return d
}

func (a *Aggregator) decodeFailed(s *TagSummary, r RawReading, err error) {
	s.DecodeErrors++
	a.log.Debug("payload dropped", "tag", r.TagID, "base", r.BaseID, "error", err)
}

func (a *Aggregator) summarise(s *TagSummary) {
	s.RSSIMeans = make(map[int]float64, len(s.rssi))
	for id, samples := range s.rssi {
		s.RSSIMeans[id] = stat.Mean(samples, nil)
	}

	latest := 0.0
	for _, d := range s.Readings {
		if d.MotionOK && (!s.HasMotion || d.Motion > s.MaxMotion) {
			s.MaxMotion, s.HasMotion = d.Motion, true
		}
		if d.HeadingOK && (!s.HasHeading || d.Time >= latest) {
			latest = d.Time
			s.Heading, s.HasHeading = d.Heading, true
		}
	}

	a.log.Debug("tag summary",
		"tag", s.TagID,
		"accel", s.MaxMotion,
		"heading", s.Heading,
		"rssi", s.RSSIMeans)
}
