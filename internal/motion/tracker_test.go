package motion

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T, capacity int) *Tracker {
	t.Helper()
	tr, err := NewTracker(DefaultThreshold, DefaultWindow, capacity)
	require.NoError(t, err)
	return tr
}

func TestTrackerCountdown(t *testing.T) {
	tr := newTracker(t, DefaultCapacity)

	var got []int
	for _, m := range []float64{1.5, 0.1, 0.1, 0.1, 0.1} {
		got = append(got, tr.Update("AA:BB", m))
	}
	assert.Equal(t, []int{120, 119, 118, 117, 116}, got)
	assert.Equal(t, 116, tr.Get("AA:BB"))
}

func TestTrackerThresholdIsExclusive(t *testing.T) {
	tr := newTracker(t, DefaultCapacity)
	assert.Equal(t, 0, tr.Update("T", DefaultThreshold))
	assert.Equal(t, DefaultWindow, tr.Update("T", DefaultThreshold+1e-9))
}

func TestTrackerRetrigger(t *testing.T) {
	tr := newTracker(t, DefaultCapacity)
	tr.Update("T", 2)
	for i := 0; i < 10; i++ {
		tr.Update("T", 0)
	}
	assert.Equal(t, 110, tr.Get("T"))
	assert.Equal(t, 120, tr.Update("T", 3))
}

func TestTrackerNeverNegative(t *testing.T) {
	tr, err := NewTracker(DefaultThreshold, 3, DefaultCapacity)
	require.NoError(t, err)

	assert.Equal(t, 0, tr.Update("new", 0), "unseen tags start at 0")
	tr.Update("T", 5)
	for i := 0; i < 10; i++ {
		v := tr.Update("T", 0)
		assert.GreaterOrEqual(t, v, 0)
	}
	assert.Equal(t, 0, tr.Get("T"))
}

func TestTrackerTagsAreIndependent(t *testing.T) {
	tr := newTracker(t, DefaultCapacity)
	tr.Update("A", 5)
	tr.Update("B", 0)
	tr.Update("A", 0)
	assert.Equal(t, 119, tr.Get("A"))
	assert.Equal(t, 0, tr.Get("B"))
	assert.Equal(t, 2, tr.Len())
}

func TestTrackerEvictionActsLikeUnseen(t *testing.T) {
	tr := newTracker(t, 2)
	tr.Update("A", 5)
	tr.Update("B", 5)
	tr.Update("C", 5) // evicts A

	assert.Equal(t, 2, tr.Len())
	assert.Equal(t, 0, tr.Get("A"))
	assert.Equal(t, 0, tr.Update("A", 0))
	assert.Equal(t, 120, tr.Get("C"))
}

func TestTrackerSnapshotRestore(t *testing.T) {
	tr := newTracker(t, DefaultCapacity)
	tr.Update("A", 5)
	tr.Update("A", 0)
	tr.Update("B", 0)

	snap := tr.Snapshot()
	assert.Equal(t, map[string]int{"A": 119, "B": 0}, snap)

	tr.Reset()
	assert.Equal(t, 0, tr.Len())

	tr.Restore(map[string]int{"A": 119, "B": -4, "C": 500})
	assert.Equal(t, 119, tr.Get("A"))
	assert.Equal(t, 0, tr.Get("B"))
	assert.Equal(t, 120, tr.Get("C"))
	assert.Equal(t, 118, tr.Update("A", 0))
}

func TestNewTrackerRejects(t *testing.T) {
	_, err := NewTracker(0.9, 0, 10)
	assert.Error(t, err)
	_, err = NewTracker(0.9, 120, 0)
	assert.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap)

	want := map[string]int{"AA:BB": 117, "CC:DD": 0, "EE:FF": 120}
	require.NoError(t, s.Save(ctx, want))
	require.NoError(t, s.Save(ctx, want), "saving twice replaces")
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, s.Save(ctx, map[string]int{"AA:BB": 3}))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"AA:BB": 3}, got)
}

func TestStoreRestoresTracker(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer s.Close()

	tr := newTracker(t, DefaultCapacity)
	tr.Update("T", 4)
	tr.Update("T", 0)
	require.NoError(t, s.Save(ctx, tr.Snapshot()))

	restored := newTracker(t, DefaultCapacity)
	snap, err := s.Load(ctx)
	require.NoError(t, err)
	restored.Restore(snap)
	assert.Equal(t, 118, restored.Update("T", 0))
}
