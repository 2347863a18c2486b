// Package retriever ranks memories against a free-text query and packs the
// best of them into a bounded prompt context.
package retriever

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/crew-memory/internal/decay"
	"github.com/rcliao/crew-memory/internal/keywords"
	"github.com/rcliao/crew-memory/internal/metrics"
	"github.com/rcliao/crew-memory/internal/model"
	"github.com/rcliao/crew-memory/internal/store"
)

// Signal weights. They sum to 1.
const (
	WeightKeyword    = 0.40
	WeightRecency    = 0.20
	WeightImportance = 0.25
	WeightAccess     = 0.15
)

const (
	DefaultLimit           = 8
	DefaultMaxInjectTokens = 800

	// CharsPerToken converts the token budget into a character budget.
	CharsPerToken = 1.5

	tagHit      = 0.3
	summaryHit  = 0.1
	recencyRate = 0.05
	accessCap   = 10
	msPerDay    = 24 * 60 * 60 * 1000
)

// Options configures a Retriever. Zero values select defaults.
type Options struct {
	DefaultLimit    int
	MaxInjectTokens int
	Keywords        *keywords.Extractor
	Now             func() time.Time
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

// Retriever scores store candidates and reinforces what it returns.
type Retriever struct {
	store   *store.Store
	decay   *decay.Engine
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New returns a Retriever reading from s and reinforcing through d.
func New(s *store.Store, d *decay.Engine, opts Options) *Retriever {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.MaxInjectTokens <= 0 {
		opts.MaxInjectTokens = DefaultMaxInjectTokens
	}
	if opts.Now == nil {
		opts.Now = s.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Retriever{
		store:   s,
		decay:   d,
		opts:    opts,
		log:     opts.Logger.With("component", "retriever"),
		metrics: opts.Metrics,
	}
}

// Query describes a recall request.
type Query struct {
	Text string

	// AgentID limits candidates to what the agent may read. Empty means
	// a global recall over every live entry.
	AgentID string

	Types         []model.MemoryType
	Tags          []string
	MinImportance float64
	Limit         int
}

// Scored is a ranked candidate with its individual signals.
type Scored struct {
	Entry      model.IndexEntry `json:"entry"`
	Score      float64          `json:"score"`
	Keyword    float64          `json:"keyword"`
	Recency    float64          `json:"recency"`
	Importance float64          `json:"importance"`
	Access     float64          `json:"access"`
}

func (r *Retriever) limit(q Query) int {
	if q.Limit > 0 {
		return q.Limit
	}
	return r.opts.DefaultLimit
}

func (r *Retriever) filter(q Query) store.Filter {
	return store.Filter{
		Types:         q.Types,
		Tags:          q.Tags,
		VisibleTo:     q.AgentID,
		MinImportance: q.MinImportance,
	}
}

// Keywords returns the search keys extracted from text.
func (r *Retriever) Keywords(text string) []string {
	return r.opts.Keywords.Extract(text)
}

// Rank scores every visible candidate without side effects. With no
// keywords and no type filter it returns the most recent entries instead,
// with zero scores.
func (r *Retriever) Rank(q Query) ([]Scored, error) {
	kws := r.Keywords(q.Text)
	limit := r.limit(q)

	if len(kws) == 0 && len(q.Types) == 0 {
		recent, err := r.store.GetRecent(limit, r.filter(q))
		if err != nil {
			return nil, err
		}
		out := make([]Scored, len(recent))
		for i, ix := range recent {
			out[i] = Scored{Entry: ix}
		}
		return out, nil
	}

	candidates, err := r.store.Query(r.filter(q))
	if err != nil {
		return nil, err
	}
	now := r.opts.Now().UnixMilli()
	scored := make([]Scored, 0, len(candidates))
	for _, ix := range candidates {
		scored = append(scored, score(ix, kws, now))
	}
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Entry.CreatedAt != b.Entry.CreatedAt {
			return a.Entry.CreatedAt > b.Entry.CreatedAt
		}
		return a.Entry.ID > b.Entry.ID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func score(ix model.IndexEntry, kws []string, nowMs int64) Scored {
	s := Scored{
		Entry:      ix,
		Keyword:    KeywordScore(ix, kws),
		Recency:    RecencyScore(ix.CreatedAt, nowMs),
		Importance: ix.Importance,
		Access:     AccessScore(ix.AccessCount),
	}
	s.Score = WeightKeyword*s.Keyword +
		WeightRecency*s.Recency +
		WeightImportance*s.Importance +
		WeightAccess*s.Access
	return s
}

// KeywordScore awards each keyword 0.3 for an exact tag match and 0.1 for
// appearing in the summary, normalized by 0.4 per keyword.
func KeywordScore(ix model.IndexEntry, kws []string) float64 {
	if len(kws) == 0 {
		return 0
	}
	summary := strings.ToLower(ix.Summary)
	var sum float64
	for _, kw := range kws {
		if ix.HasTag(kw) {
			sum += tagHit
		}
		if strings.Contains(summary, kw) {
			sum += summaryHit
		}
	}
	return model.Clamp01(sum / ((tagHit + summaryHit) * float64(len(kws))))
}

// RecencyScore decays with days since creation.
func RecencyScore(createdAt, nowMs int64) float64 {
	days := math.Max(0, float64(nowMs-createdAt)/msPerDay)
	return math.Exp(-recencyRate * days)
}

// AccessScore saturates at ten accesses.
func AccessScore(count int) float64 {
	return math.Min(1, float64(count)/accessCap)
}

// Recall ranks candidates for q, reinforces the winners and returns their
// full records. Failures are logged and yield an empty result.
func (r *Retriever) Recall(q Query) []model.Entry {
	entries, err := r.RecallErr(q)
	if err != nil {
		r.log.Error("recall failed", "query", q.Text, "agent", q.AgentID, "error", err)
		return []model.Entry{}
	}
	return entries
}

// RecallErr is Recall with the error surfaced.
func (r *Retriever) RecallErr(q Query) ([]model.Entry, error) {
	r.metrics.Recall()
	ranked, err := r.Rank(q)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(ranked))
	for i, s := range ranked {
		ids[i] = s.Entry.ID
	}
	if _, err := r.decay.BatchReinforce(ids); err != nil {
		r.log.Warn("reinforce after recall failed", "error", err)
	}

	out := make([]model.Entry, 0, len(ids))
	for _, id := range ids {
		e, err := r.store.Get(id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return out, fmt.Errorf("load %s: %w", id, err)
		}
		out = append(out, e)
	}
	r.log.Debug("recall", "query", q.Text, "agent", q.AgentID, "results", len(out))
	return out, nil
}

// Search returns visible entries whose tags or summary mention the query,
// best matches first. Nothing is reinforced.
func (r *Retriever) Search(q Query) ([]model.IndexEntry, error) {
	candidates, err := r.store.Query(r.filter(q))
	if err != nil {
		return nil, err
	}
	kws := r.Keywords(q.Text)
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	now := r.opts.Now().UnixMilli()

	var hits []Scored
	for _, ix := range candidates {
		s := score(ix, kws, now)
		if s.Keyword == 0 && (needle == "" || !strings.Contains(strings.ToLower(ix.Summary), needle)) {
			continue
		}
		hits = append(hits, s)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Keyword != hits[j].Keyword {
			return hits[i].Keyword > hits[j].Keyword
		}
		return hits[i].Score > hits[j].Score
	})

	limit := r.limit(q)
	out := make([]model.IndexEntry, 0, limit)
	for _, h := range hits {
		if len(out) == limit {
			break
		}
		out = append(out, h.Entry)
	}
	return out, nil
}
