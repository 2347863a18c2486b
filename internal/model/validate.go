package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownType     = errors.New("unknown memory type")
	ErrInvalidScope    = errors.New("invalid scope")
	ErrInvalidSource   = errors.New("invalid source type")
	ErrImportanceRange = errors.New("importance must be between 0 and 1")
	ErrMissingContent  = errors.New("content is required")
	ErrMissingSummary  = errors.New("summary is required")
	ErrMissingID       = errors.New("id is required")
	ErrMissingAgent    = errors.New("agent id is required for per-agent types")
	ErrImmutableField  = errors.New("field cannot be changed")
)

// ValidationError describes a rejected entry field.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid %s: %v (%s)", e.Field, e.Err, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error, reason string) error {
	return &ValidationError{Field: field, Reason: reason, Err: err}
}

// Input is the caller-supplied part of a new entry. Zero-valued Scope and
// nil Importance fall back to the type defaults.
type Input struct {
	Type             MemoryType `json:"type"`
	Content          string     `json:"content"`
	Summary          string     `json:"summary"`
	Scope            Scope      `json:"scope,omitempty"`
	AgentID          string     `json:"agentId,omitempty"`
	Source           Source     `json:"source"`
	Tags             []string   `json:"tags,omitempty"`
	RelatedAgents    []string   `json:"relatedAgents,omitempty"`
	RelatedMemoryIDs []string   `json:"relatedMemoryIds,omitempty"`
	Importance       *float64   `json:"importance,omitempty"`
}

// Validate checks in against the type table.
func (in Input) Validate() error {
	info, ok := Lookup(in.Type)
	if !ok {
		return invalid("type", ErrUnknownType, string(in.Type))
	}
	if strings.TrimSpace(in.Content) == "" {
		return invalid("content", ErrMissingContent, "")
	}
	if strings.TrimSpace(in.Summary) == "" {
		return invalid("summary", ErrMissingSummary, "")
	}
	if in.Scope != "" && !ValidScopes[in.Scope] {
		return invalid("scope", ErrInvalidScope, string(in.Scope))
	}
	if in.Source.Type != "" && !ValidSources[in.Source.Type] {
		return invalid("source", ErrInvalidSource, string(in.Source.Type))
	}
	if in.Importance != nil {
		if err := CheckImportance(*in.Importance); err != nil {
			return err
		}
	}
	if info.PerAgent && in.AgentID == "" {
		return invalid("agentId", ErrMissingAgent, string(in.Type))
	}
	return nil
}

// CheckImportance rejects values outside [0,1].
func CheckImportance(v float64) error {
	if v < 0 || v > 1 || v != v {
		return invalid("importance", ErrImportanceRange, fmt.Sprintf("%g", v))
	}
	return nil
}

// NewEntry validates in and builds a fresh entry with bookkeeping fields
// set. createdAt is epoch millis.
func NewEntry(in Input, id string, createdAt int64) (Entry, error) {
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	info, _ := Lookup(in.Type)

	scope := in.Scope
	if scope == "" {
		scope = info.Scope
	}
	importance := info.Importance
	if in.Importance != nil {
		importance = *in.Importance
	}
	source := in.Source
	if source.Type == "" {
		source.Type = SourceManual
	}

	return Entry{
		ID:               id,
		Type:             in.Type,
		Content:          in.Content,
		Summary:          strings.TrimSpace(in.Summary),
		Scope:            scope,
		AgentID:          in.AgentID,
		Source:           source,
		Tags:             Dedupe(in.Tags),
		RelatedAgents:    Dedupe(in.RelatedAgents),
		RelatedMemoryIDs: Dedupe(in.RelatedMemoryIDs),
		CreatedAt:        createdAt,
		LastAccessedAt:   createdAt,
		Importance:       importance,
	}, nil
}

// Dedupe drops empty and repeated strings, preserving first occurrence.
// It never returns nil so encoded entries carry [] instead of null.
func Dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Patch is a partial update. Nil fields are left unchanged. ID and Type
// may be set only to their current values.
type Patch struct {
	ID               *string
	Type             *MemoryType
	Content          *string
	Summary          *string
	Scope            *Scope
	AgentID          *string
	Source           *Source
	Tags             *[]string
	RelatedAgents    *[]string
	RelatedMemoryIDs *[]string
	Importance       *float64
	LastAccessedAt   *int64
	AccessCount      *int
	Archived         *bool
	SupersededBy     *string
}

// Apply merges p into e and returns the result. e is not modified.
func (p Patch) Apply(e Entry) (Entry, error) {
	if p.ID != nil && *p.ID != e.ID {
		return e, invalid("id", ErrImmutableField, "")
	}
	if p.Type != nil && *p.Type != e.Type {
		return e, invalid("type", ErrImmutableField, "")
	}
	out := e.Clone()
	if p.Content != nil {
		if strings.TrimSpace(*p.Content) == "" {
			return e, invalid("content", ErrMissingContent, "")
		}
		out.Content = *p.Content
	}
	if p.Summary != nil {
		if strings.TrimSpace(*p.Summary) == "" {
			return e, invalid("summary", ErrMissingSummary, "")
		}
		out.Summary = strings.TrimSpace(*p.Summary)
	}
	if p.Scope != nil {
		if !ValidScopes[*p.Scope] {
			return e, invalid("scope", ErrInvalidScope, string(*p.Scope))
		}
		out.Scope = *p.Scope
	}
	if p.AgentID != nil {
		if info, _ := Lookup(e.Type); info.PerAgent && *p.AgentID == "" {
			return e, invalid("agentId", ErrMissingAgent, string(e.Type))
		}
		out.AgentID = *p.AgentID
	}
	if p.Source != nil {
		if !ValidSources[p.Source.Type] {
			return e, invalid("source", ErrInvalidSource, string(p.Source.Type))
		}
		out.Source = *p.Source
	}
	if p.Tags != nil {
		out.Tags = Dedupe(*p.Tags)
	}
	if p.RelatedAgents != nil {
		out.RelatedAgents = Dedupe(*p.RelatedAgents)
	}
	if p.RelatedMemoryIDs != nil {
		out.RelatedMemoryIDs = Dedupe(*p.RelatedMemoryIDs)
	}
	if p.Importance != nil {
		if err := CheckImportance(*p.Importance); err != nil {
			return e, err
		}
		out.Importance = *p.Importance
	}
	if p.LastAccessedAt != nil {
		out.LastAccessedAt = *p.LastAccessedAt
	}
	if p.AccessCount != nil {
		out.AccessCount = *p.AccessCount
	}
	if p.Archived != nil {
		out.Archived = *p.Archived
	}
	if p.SupersededBy != nil {
		out.SupersededBy = *p.SupersededBy
	}
	return out, nil
}

// Clamp01 limits v to [0,1].
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
