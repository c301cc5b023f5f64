// Package bases holds the fixed receivers and their floor coordinates.
package bases

import (
	"fmt"
	"sort"

	"beacon-locator/internal/config"
)

// Point is a floor coordinate in metres.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Base is one fixed receiver.
type Base struct {
	ID  int   `json:"id"`
	Pos Point `json:"pos"`
}

// Registry is an immutable id -> coordinate lookup. It is built once at
// start-up and only read afterwards, so it is safe for concurrent use.
type Registry struct {
	pos map[int]Point
	ids []int
}

// NewRegistry builds a registry, rejecting an empty set and duplicate ids.
func NewRegistry(list []Base) (*Registry, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("base registry needs at least one base")
	}
	r := &Registry{pos: make(map[int]Point, len(list))}
	for _, b := range list {
		if _, dup := r.pos[b.ID]; dup {
			return nil, fmt.Errorf("duplicate base id %d", b.ID)
		}
		r.pos[b.ID] = b.Pos
		r.ids = append(r.ids, b.ID)
	}
	sort.Ints(r.ids)
	return r, nil
}

// Reference returns the four-base layout of the reference deployment.
func Reference() *Registry {
	r, err := NewRegistry([]Base{
		{ID: 2, Pos: Point{X: 1.923, Y: 1.385}},
		{ID: 1, Pos: Point{X: 9.85, Y: 1.277}},
		{ID: 0, Pos: Point{X: 3.415, Y: 6.846}},
		{ID: 3, Pos: Point{X: 9.077, Y: 9.154}},
	})
	if err != nil {
		panic(err)
	}
	return r
}

// FromConfig builds a registry from the configured bases.
func FromConfig(list []config.BaseConfig) (*Registry, error) {
	bs := make([]Base, 0, len(list))
	for _, b := range list {
		bs = append(bs, Base{ID: b.ID, Pos: Point{X: b.X, Y: b.Y}})
	}
	return NewRegistry(bs)
}

// Lookup returns the coordinate of a base.
func (r *Registry) Lookup(id int) (Point, bool) {
	p, ok := r.pos[id]
	return p, ok
}

// Contains reports whether id is a known base.
func (r *Registry) Contains(id int) bool {
	_, ok := r.pos[id]
	return ok
}

// IDs returns the base ids in ascending order.
func (r *Registry) IDs() []int {
	return append([]int(nil), r.ids...)
}

// Len returns the number of bases.
func (r *Registry) Len() int { return len(r.ids) }

// Bases returns every base ordered by id.
func (r *Registry) Bases() []Base {
	out := make([]Base, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, Base{ID: id, Pos: r.pos[id]})
	}
	return out
}
