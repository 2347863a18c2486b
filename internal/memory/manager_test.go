package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/crew-memory/internal/config"
	"github.com/rcliao/crew-memory/internal/llm"
	"github.com/rcliao/crew-memory/internal/model"
	"github.com/rcliao/crew-memory/internal/retriever"
	"github.com/rcliao/crew-memory/internal/store"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeExtractor struct {
	mu   sync.Mutex
	reqs []ExtractionRequest
	out  []model.Input
	err  error
}

func (f *fakeExtractor) Extract(_ context.Context, req ExtractionRequest) ([]model.Input, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.out, f.err
}

func (f *fakeExtractor) requests() []ExtractionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ExtractionRequest(nil), f.reqs...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Root = t.TempDir()
	cfg.Storage.FlushDebounce = time.Hour
	return cfg
}

func newTestManager(t *testing.T, cfg *config.Config, opts Options) *Manager {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	m, err := Open(context.Background(), cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

func imp(v float64) *float64 { return &v }

func msgs(n int) []model.Message {
	out := make([]model.Message, n)
	for i := range out {
		out[i] = model.Message{Sender: "alice", Content: "we should ship the api on friday"}
	}
	return out
}

func TestStoreValidation(t *testing.T) {
	m := newTestManager(t, nil, Options{})

	bad := m.Store(model.Input{Type: model.TypeFact, Content: "x", Summary: "x", Importance: imp(1.5)})
	require.False(t, bad.OK())
	assert.ErrorIs(t, bad.Err, model.ErrImportanceRange)

	unknown := m.Store(model.Input{Type: "gossip", Content: "x", Summary: "x"})
	assert.ErrorIs(t, unknown.Err, model.ErrUnknownType)

	good := m.Store(model.Input{Type: model.TypeFact, Content: "Postgres 16", Summary: "Postgres chosen for storage"})
	require.True(t, good.OK())

	got, err := m.Get(good.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, good.Entry, got)
	assert.Equal(t, 0, got.AccessCount)
	assert.False(t, got.Archived)
}

func TestStoreMultipleIsIndependent(t *testing.T) {
	m := newTestManager(t, nil, Options{})
	res := m.StoreMultiple([]model.Input{
		{Type: model.TypeDecision, Content: "use grpc", Summary: "gRPC for internal calls"},
		{Type: model.TypeDecision, Content: "", Summary: "missing content"},
		{Type: model.TypeLesson, Content: "pin deps", Summary: "Pin dependency versions"},
	})
	require.Len(t, res, 3)
	assert.True(t, res[0].OK())
	assert.ErrorIs(t, res[1].Err, model.ErrMissingContent)
	assert.True(t, res[2].OK())
}

func TestRecallReinforces(t *testing.T) {
	m := newTestManager(t, nil, Options{})
	react := m.Store(model.Input{Type: model.TypeFact, Content: "c", Summary: "React chosen for frontend"})
	m.Store(model.Input{Type: model.TypeFact, Content: "c", Summary: "Vue rejected for frontend"})
	pg := m.Store(model.Input{Type: model.TypeFact, Content: "c", Summary: "Postgres chosen for storage"})

	got := m.Recall(retriever.Query{Text: "React frontend", Limit: 2})
	require.NotEmpty(t, got)
	assert.Equal(t, react.Entry.ID, got[0].ID)
	for _, e := range got {
		assert.NotEqual(t, pg.Entry.ID, e.ID)
	}

	after, err := m.Get(react.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.AccessCount)
}

func TestSharedKnowledgeAndProfile(t *testing.T) {
	m := newTestManager(t, nil, Options{})
	m.Store(model.Input{Type: model.TypeCompanyFact, Content: "c", Summary: "Founded in 2019"})
	m.Store(model.Input{Type: model.TypeConsensus, Content: "c", Summary: "Weekly demos on Friday"})
	m.Store(model.Input{Type: model.TypeFact, Content: "c", Summary: "Private note", Scope: model.ScopeAgent, AgentID: "bob"})
	m.Store(model.Input{Type: model.TypeUserProfile, Content: "c", Summary: "User prefers short answers"})

	shared, err := m.GetSharedKnowledge(10)
	require.NoError(t, err)
	require.Len(t, shared, 2)
	for _, e := range shared {
		assert.Equal(t, model.ScopeShared, e.Scope)
	}

	profile, err := m.GetUserProfile()
	require.NoError(t, err)
	require.Len(t, profile, 1)
	assert.Equal(t, "User prefers short answers", profile[0].Summary)

	recent, err := m.GetRecent("alice", 10)
	require.NoError(t, err)
	for _, ix := range recent {
		assert.NotEqual(t, "Private note", ix.Summary)
	}
}

func TestForgetAndReinforce(t *testing.T) {
	m := newTestManager(t, nil, Options{})
	e := m.Store(model.Input{Type: model.TypeFact, Content: "c", Summary: "Deploys run on Tuesdays"}).Entry

	r, err := m.Reinforce(e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, r.AccessCount)

	b, err := m.BoostImportance(e.ID, 0.2)
	require.NoError(t, err)
	assert.Greater(t, b.Importance, e.Importance)

	require.NoError(t, m.Forget(e.ID))
	_, err = m.Get(e.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, m.Forget(e.ID), store.ErrNotFound)
}

func TestContextForAgent(t *testing.T) {
	m := newTestManager(t, nil, Options{})
	assert.Equal(t, "", m.GetContextForAgent("alice", "anything", 5))

	m.Store(model.Input{Type: model.TypeDecision, Content: "c", Summary: "Kubernetes for deployment", Tags: []string{"infra"}})
	out := m.GetContextForAgent("alice", "kubernetes deployment", 5)
	assert.Contains(t, out, "Kubernetes for deployment")
}

func TestInitializeOnce(t *testing.T) {
	m := newTestManager(t, nil, Options{})
	assert.False(t, m.GetStats().LLM)

	first := llm.NewMockClient(llm.MockResponse{Content: "ok"})
	m.Initialize(first)
	assert.True(t, m.GetStats().LLM)

	m.Initialize(nil)
	assert.True(t, m.GetStats().LLM, "second initialize must not replace the client")
}

func TestReinitializeSwitchesRoot(t *testing.T) {
	m := newTestManager(t, nil, Options{})
	a := m.Store(model.Input{Type: model.TypeFact, Content: "c", Summary: "Tenant A fact"}).Entry
	rootA := m.opts.Storage.Root

	rootB := t.TempDir()
	require.NoError(t, m.Reinitialize(context.Background(), rootB))
	_, err := m.Get(a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	m.Store(model.Input{Type: model.TypeFact, Content: "c", Summary: "Tenant B fact"})
	require.NoError(t, m.Reinitialize(context.Background(), rootA))

	got, err := m.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Tenant A fact", got.Summary)
	assert.Equal(t, 1, m.GetStats().Total)
}

func TestCloseFlushesToDisk(t *testing.T) {
	cfg := testConfig(t)
	m, err := Open(context.Background(), cfg, Options{})
	require.NoError(t, err)
	e := m.Store(model.Input{Type: model.TypePreference, Content: "c", Summary: "Prefers tabs"}).Entry
	require.NoError(t, m.Close(context.Background()))
	assert.ErrorIs(t, m.Close(context.Background()), store.ErrClosed)

	m2 := newTestManager(t, cfg, Options{})
	got, err := m2.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Prefers tabs", got.Summary)
}

func TestOpenSQLiteBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = config.BackendSQLite
	m := newTestManager(t, cfg, Options{})

	e := m.Store(model.Input{Type: model.TypeFact, Content: "c", Summary: "Stored in sqlite"}).Entry
	require.NoError(t, m.Flush(context.Background()))
	assert.Contains(t, m.GetStats().Backend, "sqlite:")

	got, err := m.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
}

func TestStatsReportsExtractor(t *testing.T) {
	m := newTestManager(t, nil, Options{Extractor: &fakeExtractor{}})
	st := m.GetStats()
	assert.True(t, st.Extractor)
	assert.Nil(t, st.LastMaintenance)
}

func TestExtractorErrorStoresNothing(t *testing.T) {
	ex := &fakeExtractor{err: errors.New("model unavailable")}
	m := newTestManager(t, nil, Options{Extractor: ex, ExtractionIntervalMessages: 1})

	assert.True(t, m.OnNewMessage("c1", "alice", msgs(3)))
	m.Wait()
	assert.Len(t, ex.requests(), 1)
	assert.Equal(t, 0, m.GetStats().Total)
}
