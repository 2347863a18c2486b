package decay

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/crew-memory/internal/model"
	"github.com/rcliao/crew-memory/internal/store"
)

const day = 24 * time.Hour

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func setup(t *testing.T) (*Engine, *store.Store, *clock) {
	t.Helper()
	c := &clock{now: t0}
	b, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	s, err := store.Open(context.Background(), b, store.Options{Debounce: time.Hour, Now: c.Now})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return New(s, Options{}), s, c
}

func ptr[T any](v T) *T { return &v }

func create(t *testing.T, s *store.Store, importance float64) model.Entry {
	t.Helper()
	e, err := s.Create(model.Input{Type: model.TypeFact, Content: "c", Summary: "s", Importance: ptr(importance)})
	require.NoError(t, err)
	return e
}

func TestEffectiveScoreScenario(t *testing.T) {
	last := t0.Add(-40 * day).UnixMilli()
	got := EffectiveScore(0.9, 0, last, t0, DefaultLambda)
	assert.InDelta(t, 0.9*math.Exp(-1.2), got, 1e-9)
	assert.InDelta(t, 0.271, got, 0.001)

	last = t0.Add(-200 * day).UnixMilli()
	got = EffectiveScore(0.9, 0, last, t0, DefaultLambda)
	assert.InDelta(t, 0.9*math.Exp(-6), got, 1e-9)
	assert.Less(t, got, DefaultArchiveThreshold)
}

func TestEffectiveScoreNeverAccessed(t *testing.T) {
	got := EffectiveScore(1, 0, 0, t0, DefaultLambda)
	assert.InDelta(t, math.Exp(-0.03*30), got, 1e-9)
}

func TestEffectiveScoreMonotonic(t *testing.T) {
	last := t0.UnixMilli()
	prev := EffectiveScore(0.7, 3, last, t0, DefaultLambda)
	for d := 1; d <= 365; d += 7 {
		cur := EffectiveScore(0.7, 3, last, t0.Add(time.Duration(d)*day), DefaultLambda)
		require.Less(t, cur, prev, "day %d", d)
		prev = cur
	}
}

func TestEffectiveScoreAccessBoost(t *testing.T) {
	last := t0.UnixMilli()
	assert.Greater(t,
		EffectiveScore(0.5, 5, last, t0, DefaultLambda),
		EffectiveScore(0.5, 0, last, t0, DefaultLambda))
}

func TestRunDecayArchivesLowScores(t *testing.T) {
	eng, s, c := setup(t)
	e := create(t, s, 0.9)
	fresh := create(t, s, 0.9)

	c.now = t0.Add(40 * day)
	res, err := eng.RunDecay()
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 0, res.Archived)

	c.now = t0.Add(200 * day)

	// Keep one entry fresh by touching it.
	_, err = eng.Reinforce(fresh.ID)
	require.NoError(t, err)

	res, err = eng.RunDecay()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Archived)

	got, err := s.Get(e.ID)
	require.NoError(t, err)
	assert.True(t, got.Archived)

	got, err = s.Get(fresh.ID)
	require.NoError(t, err)
	assert.False(t, got.Archived)

	// Archived entries are not rescanned.
	res, err = eng.RunDecay()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
}

func TestReinforce(t *testing.T) {
	eng, s, c := setup(t)
	e := create(t, s, 0.5)
	_, err := s.Update(e.ID, model.Patch{Archived: ptr(true)})
	require.NoError(t, err)

	c.now = t0.Add(3 * day)
	got, err := eng.Reinforce(e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
	assert.Equal(t, c.now.UnixMilli(), got.LastAccessedAt)
	assert.False(t, got.Archived)

	_, err = eng.Reinforce("missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBatchReinforce(t *testing.T) {
	eng, s, _ := setup(t)
	a := create(t, s, 0.5)
	b := create(t, s, 0.5)

	n, err := eng.BatchReinforce([]string{a.ID, b.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{a.ID, b.ID} {
		ix, ok := s.Lookup(id)
		require.True(t, ok)
		assert.Equal(t, 1, ix.AccessCount)
	}

	n, err = eng.BatchReinforce(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBoostImportance(t *testing.T) {
	eng, s, _ := setup(t)
	e := create(t, s, 0.5)

	got, err := eng.BoostImportance(e.ID, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, got.Importance, 1e-9)

	got, err = eng.BoostImportance(e.ID, 0.7)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Importance)

	_, err = eng.BoostImportance("missing", 0.1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarkImportant(t *testing.T) {
	eng, s, _ := setup(t)
	e := create(t, s, 0.2)
	_, err := s.Update(e.ID, model.Patch{Archived: ptr(true)})
	require.NoError(t, err)

	got, err := eng.MarkImportant(e.ID)
	require.NoError(t, err)
	assert.Equal(t, ImportantLevel, got.Importance)
	assert.False(t, got.Archived)
}
