package store

import (
	"fmt"

	"github.com/rcliao/crew-memory/internal/model"
)

// Link records a relation in the relatedMemoryIds of both entries.
// Linking an entry to itself is rejected.
func (s *Store) Link(fromID, toID string) error {
	return s.setLink(fromID, toID, true)
}

// Unlink removes the relation from both entries.
func (s *Store) Unlink(fromID, toID string) error {
	return s.setLink(fromID, toID, false)
}

func (s *Store) setLink(fromID, toID string, on bool) error {
	if fromID == toID {
		return fmt.Errorf("cannot link %s to itself", fromID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pair := range [][2]string{{fromID, toID}, {toID, fromID}} {
		if _, _, _, err := s.findLocked(pair[0]); err != nil {
			return err
		}
	}
	for _, pair := range [][2]string{{fromID, toID}, {toID, fromID}} {
		cur, shard, i, _ := s.findLocked(pair[0])
		next := cur.Clone()
		if on {
			next.RelatedMemoryIDs = model.Dedupe(append(next.RelatedMemoryIDs, pair[1]))
		} else {
			next.RelatedMemoryIDs = without(next.RelatedMemoryIDs, pair[1])
		}
		if err := s.replaceLocked(shard, i, next); err != nil {
			return err
		}
	}
	return nil
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

// Related returns the index entries referenced by id's relatedMemoryIds.
// Dangling references are skipped.
func (s *Store) Related(id string) ([]model.IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, _, _, err := s.findLocked(id)
	if err != nil {
		return nil, err
	}
	out := []model.IndexEntry{}
	for _, rid := range e.RelatedMemoryIDs {
		if ix, ok := s.index[rid]; ok {
			out = append(out, ix)
		}
	}
	return out, nil
}
