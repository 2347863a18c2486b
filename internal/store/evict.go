package store

import (
	"math"
	"sort"

	"github.com/rcliao/crew-memory/internal/model"
)

// EvictionScore ranks entries for removal from a full shard; the lowest
// scores go first.
func EvictionScore(importance float64, accessCount int) float64 {
	return importance + 0.1*math.Log(1+float64(accessCount))
}

// evictLocked drops the lowest-scored tenth (at least one) of a full shard
// and returns what is left. Ties evict the older entry first. Entries named
// in protect are never dropped.
func (s *Store) evictLocked(shard string, entries []model.Entry, protect []string) []model.Entry {
	n := len(entries) / 10
	if n < 1 {
		n = 1
	}

	keep := make(map[string]bool, len(protect))
	for _, id := range protect {
		keep[id] = true
	}
	order := make([]int, 0, len(entries))
	for i, e := range entries {
		if !keep[e.ID] {
			order = append(order, i)
		}
	}
	if n > len(order) {
		n = len(order)
	}
	if n == 0 {
		return entries
	}
	sort.SliceStable(order, func(a, b int) bool {
		ea, eb := entries[order[a]], entries[order[b]]
		sa := EvictionScore(ea.Importance, ea.AccessCount)
		sb := EvictionScore(eb.Importance, eb.AccessCount)
		if sa != sb {
			return sa < sb
		}
		if ea.CreatedAt != eb.CreatedAt {
			return ea.CreatedAt < eb.CreatedAt
		}
		return ea.ID < eb.ID
	})

	drop := make(map[int]bool, n)
	ids := make([]string, 0, n)
	for _, i := range order[:n] {
		drop[i] = true
		ids = append(ids, entries[i].ID)
		delete(s.index, entries[i].ID)
		delete(s.shardOf, entries[i].ID)
	}
	kept := make([]model.Entry, 0, len(entries)-n+1)
	for i, e := range entries {
		if !drop[i] {
			kept = append(kept, e)
		}
	}

	s.shards[shard] = kept
	s.markDirtyLocked(shard)
	s.opts.Metrics.Evicted(n)
	s.log.Info("shard full, evicted entries", "shard", shard, "evicted", n)
	s.log.Debug("evicted ids", "shard", shard, "ids", ids)
	return kept
}
