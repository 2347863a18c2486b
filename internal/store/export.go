package store

import (
	"errors"

	"github.com/rcliao/crew-memory/internal/model"
)

// ExportAll returns the full records of every entry matching f.
func (s *Store) ExportAll(f Filter) ([]model.Entry, error) {
	ixs, err := s.Query(f)
	if err != nil {
		return nil, err
	}
	out := make([]model.Entry, 0, len(ixs))
	for _, ix := range ixs {
		e, err := s.Get(ix.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Import adds entries from an export, preserving IDs and bookkeeping.
// Entries whose ID is already present are skipped.
func (s *Store) Import(entries []model.Entry) (imported, skipped int, err error) {
	for _, e := range entries {
		if err := model.CheckImportance(e.Importance); err != nil {
			return imported, skipped, err
		}
		if e.ID == "" {
			return imported, skipped, &model.ValidationError{Field: "id", Err: model.ErrMissingID}
		}
		if e.Content == "" {
			return imported, skipped, &model.ValidationError{Field: "content", Reason: e.ID, Err: model.ErrMissingContent}
		}
		if e.Summary == "" {
			return imported, skipped, &model.ValidationError{Field: "summary", Reason: e.ID, Err: model.ErrMissingSummary}
		}
		e.Tags = model.Dedupe(e.Tags)
		e.RelatedAgents = model.Dedupe(e.RelatedAgents)
		e.RelatedMemoryIDs = model.Dedupe(e.RelatedMemoryIDs)

		err := s.Add(e)
		if errors.Is(err, ErrExists) {
			skipped++
			continue
		}
		if err != nil {
			return imported, skipped, err
		}
		imported++
	}
	return imported, skipped, nil
}
