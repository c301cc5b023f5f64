// Package multilat estimates a tag position from per-base RSSI means.
//
// Both estimators start from the axis-aligned box that every base's distance
// circle constrains the tag into. MinMax returns the centre of that box;
// WeightedVertex weights its four corners by how well each fits the measured
// distances.
package multilat

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"beacon-locator/internal/bases"
	"beacon-locator/internal/sensor"
)

// ErrNoObservations is returned when there is nothing to locate from.
var ErrNoObservations = errors.New("no observations")

// ErrNonFinite is returned when the distances are too large for the box to
// have a finite midpoint, typically RSSI far outside the fitted range.
var ErrNonFinite = errors.New("position is not finite")

// Observation is one base and the distance implied by its RSSI mean.
type Observation struct {
	Base     bases.Point
	Distance float64 // metres
}

// Box is the intersection of the per-base distance squares.
type Box struct {
	Left, Right float64
	Top, Bottom float64
}

// Inverted reports whether the constraints have no common area.
func (b Box) Inverted() bool {
	return b.Left > b.Right || b.Bottom > b.Top
}

// Center returns the arithmetic midpoint, which exists even for an inverted box.
func (b Box) Center() bases.Point {
	return bases.Point{X: (b.Left + b.Right) / 2, Y: (b.Top + b.Bottom) / 2}
}

// corners in the fixed order (l,t) (l,b) (r,t) (r,b).
func (b Box) corners() [4]bases.Point {
	return [4]bases.Point{
		{X: b.Left, Y: b.Top},
		{X: b.Left, Y: b.Bottom},
		{X: b.Right, Y: b.Top},
		{X: b.Right, Y: b.Bottom},
	}
}

// BoundingBox intersects the squares of half-side d around each base.
// The result does not depend on the order of obs.
func BoundingBox(obs []Observation) (Box, error) {
	if len(obs) == 0 {
		return Box{}, ErrNoObservations
	}
	b := Box{
		Left:   math.Inf(-1),
		Right:  math.Inf(1),
		Top:    math.Inf(1),
		Bottom: math.Inf(-1),
	}
	for _, o := range obs {
		b.Left = math.Max(b.Left, o.Base.X-o.Distance)
		b.Right = math.Min(b.Right, o.Base.X+o.Distance)
		b.Top = math.Min(b.Top, o.Base.Y+o.Distance)
		b.Bottom = math.Max(b.Bottom, o.Base.Y-o.Distance)
	}
	return b, nil
}

// Degeneracy describes how far an estimate had to leave the normal path.
type Degeneracy int

const (
	// Regular means the estimator ran without special handling.
	Regular Degeneracy = iota
	// InvertedBox means the distance squares do not overlap; the position is
	// still the box midpoint.
	InvertedBox
	// ExactCorner means a corner matched every distance exactly and was
	// returned as is.
	ExactCorner
	// MidpointFallback means the corner weights were unusable and the
	// min-max midpoint was returned instead.
	MidpointFallback
	// NonFinite means no finite position exists; it comes with ErrNonFinite.
	NonFinite
)

func (d Degeneracy) String() string {
	switch d {
	case Regular:
		return "regular"
	case InvertedBox:
		return "inverted_box"
	case ExactCorner:
		return "exact_corner"
	case MidpointFallback:
		return "midpoint_fallback"
	case NonFinite:
		return "non_finite"
	}
	return fmt.Sprintf("degeneracy(%d)", int(d))
}

// Estimate is a located position in metres.
type Estimate struct {
	Pos        bases.Point
	Box        Box
	Degenerate Degeneracy
}

func finite(p bases.Point) bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// midpoint returns the box centre flagged kind, or ErrNonFinite.
func midpoint(box Box, kind Degeneracy) (Estimate, error) {
	e := Estimate{Pos: box.Center(), Box: box, Degenerate: kind}
	if !finite(e.Pos) {
		e.Degenerate = NonFinite
		return e, ErrNonFinite
	}
	return e, nil
}

// MinMax returns the centre of the bounding box.
func MinMax(obs []Observation) (Estimate, error) {
	box, err := BoundingBox(obs)
	if err != nil {
		return Estimate{}, err
	}
	kind := Regular
	if box.Inverted() {
		kind = InvertedBox
	}
	return midpoint(box, kind)
}

// WeightedVertex returns the centroid of the bounding box corners, each
// weighted by 1/Σ(‖base−corner‖ − d)².
func WeightedVertex(obs []Observation) (Estimate, error) {
	box, err := BoundingBox(obs)
	if err != nil {
		return Estimate{}, err
	}

	corners := box.corners()
	weights := make([]float64, len(corners))
	xs := make([]float64, len(corners))
	ys := make([]float64, len(corners))
	for i, c := range corners {
		var residual float64
		for _, o := range obs {
			r := math.Hypot(o.Base.X-c.X, o.Base.Y-c.Y) - o.Distance
			residual += r * r
		}
		if residual == 0 {
			return Estimate{Pos: c, Box: box, Degenerate: ExactCorner}, nil
		}
		weights[i] = 1 / residual
		xs[i], ys[i] = c.X, c.Y
	}

	total := floats.Sum(weights)
	if total == 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return midpoint(box, MidpointFallback)
	}
	pos := bases.Point{
		X: floats.Dot(weights, xs) / total,
		Y: floats.Dot(weights, ys) / total,
	}
	if !finite(pos) {
		return midpoint(box, MidpointFallback)
	}
	e := Estimate{Pos: pos, Box: box}
	if box.Inverted() {
		e.Degenerate = InvertedBox
	}
	return e, nil
}

// Method selects an estimator.
type Method string

const (
	MethodMinMax   Method = "minmax"
	MethodWeighted Method = "weighted"
)

// ParseMethod accepts "minmax" and "weighted"; an empty string means minmax.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case "", MethodMinMax:
		return MethodMinMax, nil
	case MethodWeighted:
		return MethodWeighted, nil
	}
	return "", fmt.Errorf("unknown estimator method %q", s)
}

// Engine turns RSSI means into positions against a fixed set of bases.
type Engine struct {
	reg    *bases.Registry
	method Method
}

// NewEngine returns an engine using method over the bases in reg.
func NewEngine(reg *bases.Registry, method Method) (*Engine, error) {
	if reg == nil {
		return nil, fmt.Errorf("engine needs a base registry")
	}
	m, err := ParseMethod(string(method))
	if err != nil {
		return nil, err
	}
	return &Engine{reg: reg, method: m}, nil
}

// Method reports the configured estimator.
func (e *Engine) Method() Method { return e.method }

// Observations converts RSSI means into distances, skipping unknown bases.
// The result is ordered by base id.
func (e *Engine) Observations(means map[int]float64) []Observation {
	var obs []Observation
	for _, id := range e.reg.IDs() {
		rssi, ok := means[id]
		if !ok {
			continue
		}
		pos, _ := e.reg.Lookup(id)
		obs = append(obs, Observation{Base: pos, Distance: sensor.RSSIToDistance(rssi)})
	}
	return obs
}

// Locate estimates a position from base id -> mean RSSI.
func (e *Engine) Locate(means map[int]float64) (Estimate, error) {
	obs := e.Observations(means)
	if e.method == MethodWeighted {
		return WeightedVertex(obs)
	}
	return MinMax(obs)
}
