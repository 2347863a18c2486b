// Package decay ages memories out of relevance and lets access rejuvenate
// them. Nothing here deletes an entry; low scorers are only archived.
package decay

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/rcliao/crew-memory/internal/metrics"
	"github.com/rcliao/crew-memory/internal/model"
	"github.com/rcliao/crew-memory/internal/store"
)

const (
	DefaultLambda           = 0.03
	DefaultArchiveThreshold = 0.05

	// NeverAccessedDays stands in for the age of entries with no recorded
	// access.
	NeverAccessedDays = 30

	DefaultBoost   = 0.1
	ImportantLevel = 0.95
)

const msPerDay = 24 * 60 * 60 * 1000

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Lambda           float64
	ArchiveThreshold float64
	Now              func() time.Time
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
}

// Engine applies decay and reinforcement to a store.
type Engine struct {
	store   *store.Store
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New returns an Engine over s.
func New(s *store.Store, opts Options) *Engine {
	if opts.Lambda <= 0 {
		opts.Lambda = DefaultLambda
	}
	if opts.ArchiveThreshold <= 0 {
		opts.ArchiveThreshold = DefaultArchiveThreshold
	}
	if opts.Now == nil {
		opts.Now = s.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		store:   s,
		opts:    opts,
		log:     opts.Logger.With("component", "decay"),
		metrics: opts.Metrics,
	}
}

// EffectiveScore is importance * (1 + ln(1 + accessCount)) *
// exp(-lambda * daysSinceLastAccess).
func EffectiveScore(importance float64, accessCount int, lastAccessedAt int64, now time.Time, lambda float64) float64 {
	days := float64(NeverAccessedDays)
	if lastAccessedAt > 0 {
		days = math.Max(0, float64(now.UnixMilli()-lastAccessedAt)/msPerDay)
	}
	return importance * (1 + math.Log(1+float64(accessCount))) * math.Exp(-lambda*days)
}

// Score returns the effective score of ix at the engine's current time.
func (e *Engine) Score(ix model.IndexEntry) float64 {
	return EffectiveScore(ix.Importance, ix.AccessCount, ix.LastAccessedAt, e.opts.Now(), e.opts.Lambda)
}

// Result reports one decay pass.
type Result struct {
	Scanned  int `json:"scanned"`
	Archived int `json:"archived"`
}

// RunDecay archives every live entry whose effective score has fallen below
// the archive threshold.
func (e *Engine) RunDecay() (Result, error) {
	live, err := e.store.Query(store.Filter{})
	if err != nil {
		return Result{}, fmt.Errorf("decay scan: %w", err)
	}
	now := e.opts.Now()

	var ids []string
	for _, ix := range live {
		if EffectiveScore(ix.Importance, ix.AccessCount, ix.LastAccessedAt, now, e.opts.Lambda) < e.opts.ArchiveThreshold {
			ids = append(ids, ix.ID)
		}
	}

	n, err := e.store.UpdateMany(ids, func(en *model.Entry) bool {
		if en.Archived {
			return false
		}
		en.Archived = true
		return true
	})
	res := Result{Scanned: len(live), Archived: n}
	if err != nil {
		return res, fmt.Errorf("decay archive: %w", err)
	}
	e.metrics.Archived("decay", n)
	e.log.Info("decay pass complete", "scanned", res.Scanned, "archived", res.Archived)
	return res, nil
}

func (e *Engine) reinforceFn(now int64) func(*model.Entry) bool {
	return func(en *model.Entry) bool {
		en.AccessCount++
		en.LastAccessedAt = now
		en.Archived = false
		return true
	}
}

// Reinforce records an access to id and restores it if archived.
func (e *Engine) Reinforce(id string) (model.Entry, error) {
	n, err := e.BatchReinforce([]string{id})
	if err != nil {
		return model.Entry{}, err
	}
	if n == 0 {
		return model.Entry{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return e.store.Get(id)
}

// BatchReinforce reinforces every id in one store update. Unknown ids are
// ignored.
func (e *Engine) BatchReinforce(ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := e.store.UpdateMany(ids, e.reinforceFn(e.opts.Now().UnixMilli()))
	if err != nil {
		return n, fmt.Errorf("reinforce: %w", err)
	}
	e.metrics.Reinforced(n)
	return n, nil
}

// BoostImportance raises id's importance by delta, capped at 1. A
// non-positive delta uses DefaultBoost.
func (e *Engine) BoostImportance(id string, delta float64) (model.Entry, error) {
	if delta <= 0 {
		delta = DefaultBoost
	}
	return e.update(id, func(en *model.Entry) {
		en.Importance = math.Min(1, en.Importance+delta)
	})
}

// MarkImportant pins id's importance at ImportantLevel and un-archives it.
func (e *Engine) MarkImportant(id string) (model.Entry, error) {
	return e.update(id, func(en *model.Entry) {
		en.Importance = ImportantLevel
		en.Archived = false
	})
}

func (e *Engine) update(id string, fn func(*model.Entry)) (model.Entry, error) {
	n, err := e.store.UpdateMany([]string{id}, func(en *model.Entry) bool {
		fn(en)
		return true
	})
	if err != nil {
		return model.Entry{}, err
	}
	if n == 0 {
		return model.Entry{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return e.store.Get(id)
}
