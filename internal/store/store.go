// Package store provides the sharded memory store: a full in-memory index
// plus per-type shard files behind a debounced write-back cache.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rcliao/crew-memory/internal/metrics"
	"github.com/rcliao/crew-memory/internal/model"
)

const (
	DefaultDebounce           = time.Second
	DefaultMaxEntriesPerShard = 500
)

var (
	ErrNotFound = errors.New("memory not found")
	ErrExists   = errors.New("memory already exists")
	ErrClosed   = errors.New("store is closed")
)

// Options configures a Store. Zero values select defaults.
type Options struct {
	Debounce           time.Duration
	MaxEntriesPerShard int
	Logger             *slog.Logger
	Now                func() time.Time
	IDs                *model.IDGenerator
	Metrics            *metrics.Metrics
}

// Store owns the index and shard cache. All methods are safe for
// concurrent use; mutations are applied in memory immediately and written
// to the backend after the debounce window or on Flush.
type Store struct {
	mu      sync.Mutex
	backend Backend
	opts    Options
	log     *slog.Logger

	index   map[string]model.IndexEntry
	shardOf map[string]string
	shards  map[string][]model.Entry

	dirty      map[string]bool
	indexDirty bool
	timer      *time.Timer
	closed     bool

	// ioMu orders snapshot+write pairs so a later snapshot is never
	// overwritten by an earlier one.
	ioMu sync.Mutex
}

// Open loads the index from backend and returns a ready Store.
func Open(ctx context.Context, backend Backend, opts Options) (*Store, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.MaxEntriesPerShard <= 0 {
		opts.MaxEntriesPerShard = DefaultMaxEntriesPerShard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IDs == nil {
		opts.IDs = model.NewIDGenerator()
	}
	s := &Store{
		opts: opts,
		log:  opts.Logger.With("component", "store"),
	}
	if err := s.load(ctx, backend); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) reset(backend Backend) {
	s.backend = backend
	s.index = make(map[string]model.IndexEntry)
	s.shardOf = make(map[string]string)
	s.shards = make(map[string][]model.Entry)
	s.dirty = make(map[string]bool)
	s.indexDirty = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// load must be called with mu held or before the store is shared.
func (s *Store) load(ctx context.Context, backend Backend) error {
	s.reset(backend)

	data, err := backend.Load(ctx, IndexName)
	if err != nil {
		s.log.Warn("index unreadable, rebuilding from shards", "error", err)
		return s.rebuild(ctx)
	}
	if data == nil {
		return s.rebuild(ctx)
	}
	entries, err := decode[model.IndexEntry](data)
	if err != nil {
		s.log.Warn("index corrupt, rebuilding from shards", "error", err)
		return s.rebuild(ctx)
	}
	for _, ix := range entries {
		shard, err := ShardName(ix.Type, ix.AgentID)
		if err != nil {
			s.log.Warn("dropping index entry", "id", ix.ID, "error", err)
			continue
		}
		s.index[ix.ID] = ix
		s.shardOf[ix.ID] = shard
	}
	s.opts.Metrics.IndexSize(len(s.index))
	s.log.Debug("index loaded", "entries", len(s.index), "backend", backend.Describe())
	return nil
}

// rebuild reconstructs the index by reading every shard.
func (s *Store) rebuild(ctx context.Context) error {
	names, err := s.backend.List(ctx)
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	skipped := 0
	for _, name := range names {
		entries, err := s.shardLocked(ctx, name)
		if err != nil {
			s.log.Warn("skipping unreadable shard", "shard", name, "error", err)
			skipped++
			continue
		}
		for _, e := range entries {
			s.index[e.ID] = e.Index()
			s.shardOf[e.ID] = name
		}
	}
	if len(s.index) > 0 {
		s.indexDirty = true
		s.scheduleLocked()
	}
	s.opts.Metrics.IndexSize(len(s.index))
	s.log.Info("index rebuilt", "entries", len(s.index), "shards", len(names), "skipped", skipped)
	return nil
}

// shardLocked returns the cached entries of a shard, reading through to the
// backend at most once per shard.
func (s *Store) shardLocked(ctx context.Context, name string) ([]model.Entry, error) {
	if entries, ok := s.shards[name]; ok {
		return entries, nil
	}
	data, err := s.backend.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	entries, err := decode[model.Entry](data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if entries == nil {
		entries = []model.Entry{}
	}
	s.shards[name] = entries
	return entries, nil
}

func (s *Store) markDirtyLocked(shard string) {
	if shard != "" {
		s.dirty[shard] = true
	}
	s.indexDirty = true
	s.opts.Metrics.IndexSize(len(s.index))
	s.scheduleLocked()
}

// scheduleLocked arms the flush timer on the first dirtying after a flush.
// Later writes inside the window ride along with the pending flush.
func (s *Store) scheduleLocked() {
	if s.timer != nil || s.closed {
		return
	}
	s.timer = time.AfterFunc(s.opts.Debounce, func() {
		if err := s.Flush(context.Background()); err != nil {
			s.log.Error("debounced flush failed", "error", err)
		}
	})
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time { return s.opts.Now() }

// Create validates in, assigns an ID and timestamps, and adds the entry.
func (s *Store) Create(in model.Input) (model.Entry, error) {
	return s.CreateProtected(in, nil)
}

// CreateProtected is Create, except that eviction triggered by the insert
// never picks an entry whose ID is in protect.
func (s *Store) CreateProtected(in model.Input, protect []string) (model.Entry, error) {
	now := s.opts.Now()
	e, err := model.NewEntry(in, s.opts.IDs.New(now), now.UnixMilli())
	if err != nil {
		return model.Entry{}, err
	}
	if err := s.add(e, protect); err != nil {
		return model.Entry{}, err
	}
	return e, nil
}

// Add inserts a fully formed entry, evicting from its shard if the shard
// is at capacity.
func (s *Store) Add(e model.Entry) error {
	return s.add(e, nil)
}

func (s *Store) add(e model.Entry, protect []string) error {
	shard, err := ShardName(e.Type, e.AgentID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.index[e.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, e.ID)
	}

	entries, err := s.shardLocked(context.Background(), shard)
	if err != nil {
		s.log.Error("add failed", "id", e.ID, "shard", shard, "error", err)
		return err
	}
	if len(entries) >= s.opts.MaxEntriesPerShard {
		entries = s.evictLocked(shard, entries, protect)
	}
	e = e.Clone()
	s.shards[shard] = append(entries, e)
	s.index[e.ID] = e.Index()
	s.shardOf[e.ID] = shard
	s.markDirtyLocked(shard)
	s.opts.Metrics.EntryStored(string(e.Type))
	return nil
}

// Get returns the full entry for id, including archived and superseded
// entries that are still indexed.
func (s *Store) Get(id string) (model.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, _, _, err := s.findLocked(id)
	if err != nil {
		return model.Entry{}, err
	}
	return e.Clone(), nil
}

// Lookup returns the index projection for id.
func (s *Store) Lookup(id string) (model.IndexEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ix, ok := s.index[id]
	return ix, ok
}

// findLocked resolves id to its shard slice and position.
func (s *Store) findLocked(id string) (model.Entry, string, int, error) {
	if s.closed {
		return model.Entry{}, "", -1, ErrClosed
	}
	shard, ok := s.shardOf[id]
	if !ok {
		return model.Entry{}, "", -1, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	entries, err := s.shardLocked(context.Background(), shard)
	if err != nil {
		return model.Entry{}, "", -1, err
	}
	for i := range entries {
		if entries[i].ID == id {
			return entries[i], shard, i, nil
		}
	}
	s.log.Warn("indexed entry missing from shard", "id", id, "shard", shard)
	return model.Entry{}, "", -1, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Update applies p to the entry and rewrites its index projection.
func (s *Store) Update(id string, p model.Patch) (model.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, shard, i, err := s.findLocked(id)
	if err != nil {
		return model.Entry{}, err
	}
	next, err := p.Apply(cur)
	if err != nil {
		return model.Entry{}, err
	}
	if err := s.replaceLocked(shard, i, next); err != nil {
		return model.Entry{}, err
	}
	return next.Clone(), nil
}

// UpdateMany calls fn on a copy of each entry and stores the copies for
// which fn reports a change. Unknown ids are skipped. The changes share a
// single pending flush.
func (s *Store) UpdateMany(ids []string, fn func(e *model.Entry) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	changed := 0
	for _, id := range ids {
		cur, shard, i, err := s.findLocked(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return changed, err
		}
		next := cur.Clone()
		if !fn(&next) {
			continue
		}
		next.ID, next.Type = cur.ID, cur.Type
		next.Importance = model.Clamp01(next.Importance)
		if err := s.replaceLocked(shard, i, next); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// replaceLocked stores next at position i of shard, moving it to another
// shard when its owner changed.
func (s *Store) replaceLocked(shard string, i int, next model.Entry) error {
	target, err := ShardName(next.Type, next.AgentID)
	if err != nil {
		return err
	}
	if target == shard {
		s.shards[shard][i] = next
		s.index[next.ID] = next.Index()
		s.markDirtyLocked(shard)
		return nil
	}

	dest, err := s.shardLocked(context.Background(), target)
	if err != nil {
		return err
	}
	if len(dest) >= s.opts.MaxEntriesPerShard {
		dest = s.evictLocked(target, dest, nil)
	}
	s.shards[shard] = deleteAt(s.shards[shard], i)
	s.shards[target] = append(dest, next)
	s.index[next.ID] = next.Index()
	s.shardOf[next.ID] = target
	s.markDirtyLocked(shard)
	s.markDirtyLocked(target)
	return nil
}

// Remove hard-deletes id from its shard and the index.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, shard, i, err := s.findLocked(id)
	if err != nil {
		return err
	}
	s.shards[shard] = deleteAt(s.shards[shard], i)
	delete(s.index, id)
	delete(s.shardOf, id)
	s.markDirtyLocked(shard)
	return nil
}

func deleteAt(entries []model.Entry, i int) []model.Entry {
	out := make([]model.Entry, 0, len(entries)-1)
	out = append(out, entries[:i]...)
	return append(out, entries[i+1:]...)
}

// Flush writes every dirty shard and the index to the backend.
func (s *Store) Flush(ctx context.Context) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	type blob struct {
		name string
		data []byte
	}
	var (
		blobs []blob
		errs  []error
	)
	for name := range s.dirty {
		entries, ok := s.shards[name]
		if !ok {
			delete(s.dirty, name)
			continue
		}
		data, err := encode(entries)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", name, err))
			continue
		}
		blobs = append(blobs, blob{name, data})
		delete(s.dirty, name)
	}
	if s.indexDirty {
		ixs := make([]model.IndexEntry, 0, len(s.index))
		for _, ix := range s.index {
			ixs = append(ixs, ix)
		}
		sortIndex(ixs)
		data, err := encode(ixs)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode index: %w", err))
		} else {
			blobs = append(blobs, blob{IndexName, data})
			s.indexDirty = false
		}
	}
	backend := s.backend
	s.mu.Unlock()

	var failed []string
	for _, b := range blobs {
		if err := backend.Save(ctx, b.name, b.data); err != nil {
			s.opts.Metrics.FlushError()
			s.log.Error("flush failed", "shard", b.name, "error", err)
			errs = append(errs, err)
			failed = append(failed, b.name)
		}
	}

	if len(failed) > 0 {
		s.mu.Lock()
		if s.backend == backend {
			for _, name := range failed {
				if name == IndexName {
					s.indexDirty = true
				} else {
					s.dirty[name] = true
				}
			}
		}
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Pending returns the number of shards awaiting a flush.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty)
}

// ClearCache flushes pending writes and drops the shard cache. Shards are
// read again on next access.
func (s *Store) ClearCache(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.shards {
		if !s.dirty[name] {
			delete(s.shards, name)
		}
	}
	return nil
}

// Reinitialize flushes, drops all in-memory state and reloads from
// backend. The previous backend is closed when it differs from backend.
func (s *Store) Reinitialize(ctx context.Context, backend Backend) error {
	flushErr := s.Flush(ctx)
	if flushErr != nil {
		s.log.Warn("flush before reinitialize failed", "error", flushErr)
	}

	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	old := s.backend
	if err := s.load(ctx, backend); err != nil {
		return err
	}
	if old != backend {
		if err := old.Close(); err != nil {
			s.log.Warn("close previous backend", "error", err)
		}
	}
	s.log.Info("store reinitialized", "backend", backend.Describe())
	return nil
}

// Backend returns the current backend.
func (s *Store) Backend() Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// Close flushes and closes the backend. Further calls return ErrClosed.
func (s *Store) Close(ctx context.Context) error {
	flushErr := s.Flush(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return errors.Join(flushErr, s.backend.Close())
}
