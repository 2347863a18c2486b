// Package memory is the entry point other subsystems use. The Manager wires
// the store, decay engine, retriever and summarizer together and owns the
// policy none of them know about: extraction throttling and the
// maintenance schedule.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/rcliao/crew-memory/internal/config"
	"github.com/rcliao/crew-memory/internal/decay"
	"github.com/rcliao/crew-memory/internal/keywords"
	"github.com/rcliao/crew-memory/internal/llm"
	"github.com/rcliao/crew-memory/internal/metrics"
	"github.com/rcliao/crew-memory/internal/model"
	"github.com/rcliao/crew-memory/internal/retriever"
	"github.com/rcliao/crew-memory/internal/store"
	"github.com/rcliao/crew-memory/internal/summarizer"
)

// keywordCacheTokens bounds the shared keyword cache.
const keywordCacheTokens = 1 << 16

const taskSummaryChars = 100

// Options configures a Manager. Zero values select the config defaults.
type Options struct {
	ExtractionIntervalMessages int
	MinExtractionInterval      time.Duration
	MaintenanceInterval        time.Duration
	ExtractionTimeout          time.Duration

	// Storage is used by Reinitialize to open the backend for a new root.
	Storage config.StorageConfig

	Extractor Extractor
	Now       func() time.Time
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Components are the collaborators a Manager drives.
type Components struct {
	Store      *store.Store
	Decay      *decay.Engine
	Retriever  *retriever.Retriever
	Summarizer *summarizer.Summarizer

	// Keywords is closed with the Manager when set.
	Keywords *keywords.Extractor
}

// Manager is the memory facade. All methods are safe for concurrent use.
type Manager struct {
	store      *store.Store
	decay      *decay.Engine
	retriever  *retriever.Retriever
	summarizer *summarizer.Summarizer
	keywords   *keywords.Extractor

	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics

	// tenant is held shared by background jobs and exclusively while the
	// store is rebound to another root.
	tenant sync.RWMutex
	wg     sync.WaitGroup
	maint  singleflight.Group

	mu          sync.Mutex
	initialized bool
	closed      bool
	counters    map[string]int
	limiters    map[string]*rate.Limiter
	lastReport  *MaintenanceReport
	sched       *cron.Cron
}

// New returns a Manager over c.
func New(c Components, opts Options) *Manager {
	if opts.ExtractionIntervalMessages <= 0 {
		opts.ExtractionIntervalMessages = config.DefaultExtractionIntervalMessages
	}
	if opts.MinExtractionInterval <= 0 {
		opts.MinExtractionInterval = config.DefaultMinExtractionInterval
	}
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = config.DefaultMaintenanceInterval
	}
	if opts.ExtractionTimeout <= 0 {
		opts.ExtractionTimeout = config.DefaultExtractionTimeout
	}
	if opts.Now == nil {
		opts.Now = c.Store.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		store:      c.Store,
		decay:      c.Decay,
		retriever:  c.Retriever,
		summarizer: c.Summarizer,
		keywords:   c.Keywords,
		opts:       opts,
		log:        opts.Logger.With("component", "memory"),
		metrics:    opts.Metrics,
		counters:   make(map[string]int),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Open builds every component from cfg. Manager settings left zero in opts
// are taken from cfg.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ExtractionIntervalMessages <= 0 {
		opts.ExtractionIntervalMessages = cfg.Manager.ExtractionIntervalMessages
	}
	if opts.MinExtractionInterval <= 0 {
		opts.MinExtractionInterval = cfg.Manager.MinExtractionInterval
	}
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = cfg.Manager.MaintenanceInterval
	}
	if opts.ExtractionTimeout <= 0 {
		opts.ExtractionTimeout = cfg.Manager.ExtractionTimeout
	}
	opts.Storage = cfg.Storage

	backend, err := OpenBackend(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}
	kw, err := keywords.NewExtractor(keywordCacheTokens)
	if err != nil {
		backend.Close()
		return nil, err
	}
	s, err := store.Open(ctx, backend, store.Options{
		Debounce:           cfg.Storage.FlushDebounce,
		MaxEntriesPerShard: cfg.Storage.MaxEntriesPerFile,
		Logger:             opts.Logger,
		Now:                opts.Now,
		Metrics:            opts.Metrics,
	})
	if err != nil {
		backend.Close()
		kw.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	d := decay.New(s, decay.Options{
		Lambda:           cfg.Decay.Lambda,
		ArchiveThreshold: cfg.Decay.ArchiveThreshold,
		Logger:           opts.Logger,
		Metrics:          opts.Metrics,
	})
	r := retriever.New(s, d, retriever.Options{
		DefaultLimit:    cfg.Retrieval.DefaultLimit,
		MaxInjectTokens: cfg.Retrieval.MaxInjectTokens,
		Keywords:        kw,
		Logger:          opts.Logger,
		Metrics:         opts.Metrics,
	})
	z := summarizer.New(s, nil, summarizer.Options{
		ShortTermArchiveDays: cfg.Consolidation.ShortTermArchiveDays,
		MergeThreshold:       cfg.Consolidation.MergeThreshold,
		PrefixRatio:          cfg.Consolidation.PrefixRatio,
		OverlapThreshold:     cfg.Consolidation.OverlapThreshold,
		MinSummaryMessages:   cfg.Consolidation.MinSummaryMessages,
		Model:                cfg.LLM.Model,
		Keywords:             kw,
		Logger:               opts.Logger,
		Metrics:              opts.Metrics,
	})

	return New(Components{
		Store:      s,
		Decay:      d,
		Retriever:  r,
		Summarizer: z,
		Keywords:   kw,
	}, opts), nil
}

// Initialize hands the LLM client to the summarizer. Only the first call
// has an effect; client may be nil, in which case summaries and merges are
// skipped.
func (m *Manager) Initialize(client llm.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		m.log.Warn("memory manager already initialized")
		return
	}
	m.initialized = true
	m.summarizer.SetClient(client)
	m.log.Info("memory manager initialized", "llm", client != nil, "extractor", m.opts.Extractor != nil)
}

// StoreResult is the outcome of storing one entry.
type StoreResult struct {
	Entry model.Entry `json:"entry"`
	Err   error       `json:"-"`
}

// OK reports whether the entry was stored.
func (r StoreResult) OK() bool { return r.Err == nil }

// Store validates in and adds it. Validation failures are returned in the
// result, never as a panic.
func (m *Manager) Store(in model.Input) StoreResult {
	e, err := m.store.Create(in)
	if err != nil {
		m.log.Warn("store rejected", "type", in.Type, "error", err)
		return StoreResult{Err: err}
	}
	return StoreResult{Entry: e}
}

// StoreMultiple stores each input independently.
func (m *Manager) StoreMultiple(ins []model.Input) []StoreResult {
	out := make([]StoreResult, 0, len(ins))
	for _, in := range ins {
		out = append(out, m.Store(in))
	}
	return out
}

// Recall ranks and returns memories for q and reinforces them. It never
// returns nil.
func (m *Manager) Recall(q retriever.Query) []model.Entry {
	return m.retriever.Recall(q)
}

// Search matches q without reinforcing anything.
func (m *Manager) Search(q retriever.Query) ([]model.IndexEntry, error) {
	return m.retriever.Search(q)
}

// GetRecent returns the newest live entries agentID may see. An empty
// agentID sees everything.
func (m *Manager) GetRecent(agentID string, limit int) ([]model.IndexEntry, error) {
	return m.store.GetRecent(limit, store.Filter{VisibleTo: agentID})
}

// List returns index entries matching f.
func (m *Manager) List(f store.Filter) ([]model.IndexEntry, error) {
	return m.store.Query(f)
}

// GetSharedKnowledge returns the newest shared-scope entries.
func (m *Manager) GetSharedKnowledge(limit int) ([]model.Entry, error) {
	ixs, err := m.store.Query(store.Filter{Scopes: []model.Scope{model.ScopeShared}, Limit: limit})
	if err != nil {
		return []model.Entry{}, err
	}
	return m.records(ixs), nil
}

// GetUserProfile returns every live user_profile entry.
func (m *Manager) GetUserProfile() ([]model.Entry, error) {
	ixs, err := m.store.Query(store.Filter{Types: []model.MemoryType{model.TypeUserProfile}})
	if err != nil {
		return []model.Entry{}, err
	}
	return m.records(ixs), nil
}

func (m *Manager) records(ixs []model.IndexEntry) []model.Entry {
	out := make([]model.Entry, 0, len(ixs))
	for _, ix := range ixs {
		e, err := m.store.Get(ix.ID)
		if err != nil {
			m.log.Warn("load record", "id", ix.ID, "error", err)
			continue
		}
		out = append(out, e)
	}
	return out
}

// Get returns the full record, including archived and superseded ones.
func (m *Manager) Get(id string) (model.Entry, error) {
	return m.store.Get(id)
}

// Update applies p to the entry with the given id.
func (m *Manager) Update(id string, p model.Patch) (model.Entry, error) {
	return m.store.Update(id, p)
}

// Forget permanently removes an entry.
func (m *Manager) Forget(id string) error {
	if err := m.store.Remove(id); err != nil {
		return err
	}
	m.log.Info("memory forgotten", "id", id)
	return nil
}

// Reinforce records an access of id.
func (m *Manager) Reinforce(id string) (model.Entry, error) {
	return m.decay.Reinforce(id)
}

// BoostImportance raises the importance of id by delta, capped at 1.
func (m *Manager) BoostImportance(id string, delta float64) (model.Entry, error) {
	return m.decay.BoostImportance(id, delta)
}

// MarkImportant pins id near the top of the importance range.
func (m *Manager) MarkImportant(id string) (model.Entry, error) {
	return m.decay.MarkImportant(id)
}

// Link relates two entries in both directions.
func (m *Manager) Link(fromID, toID string) error { return m.store.Link(fromID, toID) }

// Unlink removes a relation in both directions.
func (m *Manager) Unlink(fromID, toID string) error { return m.store.Unlink(fromID, toID) }

// Related returns the entries id links to.
func (m *Manager) Related(id string) ([]model.IndexEntry, error) { return m.store.Related(id) }

// Export returns full records matching f.
func (m *Manager) Export(f store.Filter) ([]model.Entry, error) { return m.store.ExportAll(f) }

// Import adds previously exported records.
func (m *Manager) Import(entries []model.Entry) (imported, skipped int, err error) {
	return m.store.Import(entries)
}

// GetContextForAgent renders the memories relevant to query as a prompt
// block. It returns "" when there is nothing to inject.
func (m *Manager) GetContextForAgent(agentID, query string, limit int) string {
	return m.retriever.ContextForAgent(agentID, query, limit)
}

// Flush writes all pending changes to the backend. Call it on shutdown.
func (m *Manager) Flush(ctx context.Context) error {
	return m.store.Flush(ctx)
}

// Stats describes the manager and its store.
type Stats struct {
	store.Stats
	LLM             bool               `json:"llm"`
	Extractor       bool               `json:"extractor"`
	Conversations   int                `json:"trackedConversations"`
	LastMaintenance *MaintenanceReport `json:"lastMaintenance,omitempty"`
}

// GetStats returns store counts plus the last maintenance report.
func (m *Manager) GetStats() Stats {
	st := Stats{
		Stats:     m.store.Stats(),
		LLM:       m.summarizer.HasClient(),
		Extractor: m.opts.Extractor != nil,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st.Conversations = len(m.counters)
	if m.lastReport != nil {
		rep := *m.lastReport
		st.LastMaintenance = &rep
	}
	return st
}

// Reinitialize rebinds the manager to the storage root of another tenant.
// In-flight background jobs finish against the old root first.
func (m *Manager) Reinitialize(ctx context.Context, root string) error {
	m.tenant.Lock()
	defer m.tenant.Unlock()

	cfg := forRoot(m.opts.Storage, root)
	backend, err := OpenBackend(cfg)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	if err := m.store.Reinitialize(ctx, backend); err != nil {
		backend.Close()
		return err
	}
	m.opts.Storage = cfg

	m.mu.Lock()
	m.counters = make(map[string]int)
	m.limiters = make(map[string]*rate.Limiter)
	m.lastReport = nil
	m.mu.Unlock()

	m.log.Info("memory reinitialized", "root", root)
	return nil
}

// Wait blocks until every dispatched background job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close stops the schedule, waits for background jobs, flushes and closes
// the store.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return store.ErrClosed
	}
	m.closed = true
	m.mu.Unlock()

	m.StopMaintenanceSchedule()
	m.wg.Wait()

	err := m.store.Close(ctx)
	m.keywords.Close()
	if err != nil && !errors.Is(err, store.ErrClosed) {
		return err
	}
	return nil
}

// clip collapses whitespace and cuts s to n runes.
func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
