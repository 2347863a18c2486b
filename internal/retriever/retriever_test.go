package retriever

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/crew-memory/internal/decay"
	"github.com/rcliao/crew-memory/internal/keywords"
	"github.com/rcliao/crew-memory/internal/model"
	"github.com/rcliao/crew-memory/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func setup(t *testing.T) (*Retriever, *store.Store, *clock) {
	t.Helper()
	c := &clock{now: t0}
	b, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	s, err := store.Open(context.Background(), b, store.Options{Debounce: time.Hour, Now: c.Now})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })

	kw, err := keywords.NewExtractor(1000)
	require.NoError(t, err)
	t.Cleanup(kw.Close)

	return New(s, decay.New(s, decay.Options{}), Options{Keywords: kw}), s, c
}

func create(t *testing.T, s *store.Store, in model.Input) model.Entry {
	t.Helper()
	if in.Content == "" {
		in.Content = in.Summary
	}
	e, err := s.Create(in)
	require.NoError(t, err)
	return e
}

func ids(entries []model.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestRecallScenario(t *testing.T) {
	r, s, _ := setup(t)
	react := create(t, s, model.Input{Type: model.TypeFact, Summary: "React chosen for frontend"})
	create(t, s, model.Input{Type: model.TypeFact, Summary: "Vue rejected for frontend"})
	pg := create(t, s, model.Input{Type: model.TypeFact, Summary: "Postgres chosen for storage"})

	got := r.Recall(Query{Text: "React frontend", Limit: 2})
	require.Len(t, got, 2)
	assert.Equal(t, react.ID, got[0].ID)
	assert.NotContains(t, ids(got), pg.ID)
	assert.Equal(t, 1, got[0].AccessCount)

	stored, err := s.Get(react.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.AccessCount)

	stored, err = s.Get(pg.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.AccessCount)
}

func TestRankDeterministic(t *testing.T) {
	r, s, c := setup(t)
	for i := 0; i < 12; i++ {
		c.now = t0.Add(time.Duration(i) * time.Hour)
		create(t, s, model.Input{Type: model.TypeDecision, Summary: fmt.Sprintf("deploy service %d", i), Tags: []string{"deploy"}})
	}
	c.now = t0.Add(24 * time.Hour)

	first, err := r.Rank(Query{Text: "deploy"})
	require.NoError(t, err)
	second, err := r.Rank(Query{Text: "deploy"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, DefaultLimit)
}

func TestRecallWithoutKeywordsFallsBackToRecent(t *testing.T) {
	r, s, c := setup(t)
	for i := 0; i < 5; i++ {
		c.now = t0.Add(time.Duration(i) * time.Minute)
		create(t, s, model.Input{Type: model.TypeFact, Summary: fmt.Sprintf("fact %d", i)})
	}

	recent, err := s.GetRecent(3, store.Filter{})
	require.NoError(t, err)
	want := make([]string, len(recent))
	for i, ix := range recent {
		want[i] = ix.ID
	}

	got := r.Recall(Query{Text: "the and of", Limit: 3})
	assert.Equal(t, want, ids(got))
}

func TestRecallTypeFilterScoresWithoutKeywords(t *testing.T) {
	r, s, _ := setup(t)
	create(t, s, model.Input{Type: model.TypeFact, Summary: "plain fact"})
	d := create(t, s, model.Input{Type: model.TypeDecision, Summary: "a decision"})

	got := r.Recall(Query{Types: []model.MemoryType{model.TypeDecision}})
	require.Len(t, got, 1)
	assert.Equal(t, d.ID, got[0].ID)
}

func TestRecallScopeVisibility(t *testing.T) {
	r, s, _ := setup(t)
	own := create(t, s, model.Input{Type: model.TypeLesson, Summary: "caching lesson", AgentID: "dev"})
	other := create(t, s, model.Input{Type: model.TypeLesson, Summary: "caching lesson too", AgentID: "qa"})
	shared := create(t, s, model.Input{Type: model.TypeDecision, Summary: "caching decision"})

	got := ids(r.Recall(Query{Text: "caching", AgentID: "dev"}))
	assert.Contains(t, got, own.ID)
	assert.Contains(t, got, shared.ID)
	assert.NotContains(t, got, other.ID)

	global := ids(r.Recall(Query{Text: "caching"}))
	assert.Len(t, global, 3)
}

func TestRecallSkipsArchived(t *testing.T) {
	r, s, _ := setup(t)
	e := create(t, s, model.Input{Type: model.TypeFact, Summary: "kafka cluster"})
	archived := true
	_, err := s.Update(e.ID, model.Patch{Archived: &archived})
	require.NoError(t, err)

	assert.Empty(t, r.Recall(Query{Text: "kafka"}))
}

func TestKeywordScore(t *testing.T) {
	ix := model.IndexEntry{Summary: "React chosen for frontend", Tags: []string{"React"}}
	// react: tag + summary = 0.4; frontend: summary = 0.1; normalized by 0.8.
	assert.InDelta(t, 0.5/0.8, KeywordScore(ix, []string{"react", "frontend"}), 1e-9)
	assert.Equal(t, 0.0, KeywordScore(ix, nil))
	assert.Equal(t, 0.0, KeywordScore(ix, []string{"vue"}))
	assert.Equal(t, 1.0, KeywordScore(ix, []string{"react"}))
}

func TestRecencyAndAccessScores(t *testing.T) {
	now := t0.UnixMilli()
	assert.Equal(t, 1.0, RecencyScore(now, now))
	assert.InDelta(t, 0.6065, RecencyScore(t0.Add(-10*24*time.Hour).UnixMilli(), now), 1e-3)
	assert.Equal(t, 1.0, RecencyScore(now+1000, now))

	assert.Equal(t, 0.0, AccessScore(0))
	assert.Equal(t, 0.5, AccessScore(5))
	assert.Equal(t, 1.0, AccessScore(25))
}

func TestWeightsSumToOne(t *testing.T) {
	assert.InDelta(t, 1.0, WeightKeyword+WeightRecency+WeightImportance+WeightAccess, 1e-12)
}

func TestSearchDoesNotReinforce(t *testing.T) {
	r, s, _ := setup(t)
	hit := create(t, s, model.Input{Type: model.TypeFact, Summary: "terraform state in s3", Tags: []string{"infra"}})
	create(t, s, model.Input{Type: model.TypeFact, Summary: "office party friday"})

	got, err := r.Search(Query{Text: "terraform"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, hit.ID, got[0].ID)

	stored, err := s.Get(hit.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.AccessCount)
}

func TestFormatContext(t *testing.T) {
	r, s, c := setup(t)
	a := create(t, s, model.Input{Type: model.TypeDecision, Summary: "Use Postgres"})
	b := create(t, s, model.Input{Type: model.TypeTaskResult, Summary: "Migrated users table"})
	c.now = t0.Add(3 * time.Hour)

	out := r.FormatContext([]model.Entry{a, b}, 0)
	assert.Equal(t,
		"[Decision] Use Postgres (3h ago, high)\n[Task Result] Migrated users table (3h ago, medium)",
		out)
}

func TestFormatContextBudget(t *testing.T) {
	r, s, _ := setup(t)
	var entries []model.Entry
	for i := 0; i < 20; i++ {
		entries = append(entries, create(t, s, model.Input{
			Type:    model.TypeFact,
			Summary: fmt.Sprintf("%02d %s", i, strings.Repeat("x", 60)),
		}))
	}

	budget := CharBudget(DefaultMaxInjectTokens)
	assert.Equal(t, 533, budget)

	out := r.FormatContext(entries, 0)
	assert.LessOrEqual(t, utf8.RuneCountInString(out), budget)
	for _, line := range strings.Split(out, "\n") {
		assert.True(t, strings.HasSuffix(line, "(just now, medium)"), "line truncated: %q", line)
	}

	assert.Equal(t, "", r.FormatContext(entries, 10))
	assert.Equal(t, "", r.FormatContext(nil, 0))
}

func TestContextForAgent(t *testing.T) {
	r, s, _ := setup(t)
	create(t, s, model.Input{Type: model.TypeLesson, Summary: "retry flaky tests once", AgentID: "qa"})

	assert.Contains(t, r.ContextForAgent("qa", "flaky tests", 0), "[Lesson] retry flaky tests once")
	assert.Equal(t, "", r.ContextForAgent("dev", "flaky tests", 0))
}

func TestTimeAgoAndImportanceLabels(t *testing.T) {
	now := t0
	assert.Equal(t, "just now", TimeAgo(now.Add(-10*time.Second).UnixMilli(), now))
	assert.Equal(t, "5m ago", TimeAgo(now.Add(-5*time.Minute).UnixMilli(), now))
	assert.Equal(t, "2d ago", TimeAgo(now.Add(-49*time.Hour).UnixMilli(), now))
	assert.Equal(t, "2mo ago", TimeAgo(now.Add(-65*24*time.Hour).UnixMilli(), now))

	assert.Equal(t, "high", ImportanceLabel(0.8))
	assert.Equal(t, "medium", ImportanceLabel(0.5))
	assert.Equal(t, "low", ImportanceLabel(0.49))
}
