package store

import (
	"fmt"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rcliao/crew-memory/internal/model"
)

// Filter selects index entries. Empty fields match everything. Archived
// and superseded entries are excluded unless explicitly included.
type Filter struct {
	Types  []model.MemoryType
	Scopes []model.Scope

	// AgentID matches entries owned by exactly this agent.
	AgentID string

	// VisibleTo restricts results to what the named agent may read: its own
	// agent-scoped entries, unowned agent-scoped entries, and every user or
	// shared entry.
	VisibleTo string

	// Tags matches entries carrying any of the tags, ignoring case.
	Tags []string

	MinImportance     float64
	IncludeArchived   bool
	IncludeSuperseded bool

	// Where is a boolean expression over the index fields, e.g.
	// `importance > 0.7 && "infra" in tags`.
	Where string

	Limit int
}

// whereEnv builds the expression environment for an index entry.
func whereEnv(ix model.IndexEntry, nowMs int64) map[string]any {
	return map[string]any{
		"id":             ix.ID,
		"type":           string(ix.Type),
		"scope":          string(ix.Scope),
		"agentId":        ix.AgentID,
		"tags":           ix.Tags,
		"importance":     ix.Importance,
		"createdAt":      ix.CreatedAt,
		"lastAccessedAt": ix.LastAccessedAt,
		"accessCount":    ix.AccessCount,
		"archived":       ix.Archived,
		"supersededBy":   ix.SupersededBy,
		"summary":        ix.Summary,
		"ageDays":        float64(nowMs-ix.CreatedAt) / float64(msPerDay),
	}
}

const msPerDay = 24 * 60 * 60 * 1000

func compileWhere(src string) (*vm.Program, error) {
	if src == "" {
		return nil, nil
	}
	env := whereEnv(model.IndexEntry{Tags: []string{}}, 0)
	program, err := expr.Compile(src, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}
	return program, nil
}

type matcher struct {
	f       Filter
	types   map[model.MemoryType]bool
	scopes  map[model.Scope]bool
	program *vm.Program
	nowMs   int64
}

func newMatcher(f Filter, nowMs int64) (*matcher, error) {
	program, err := compileWhere(f.Where)
	if err != nil {
		return nil, err
	}
	m := &matcher{f: f, program: program, nowMs: nowMs}
	if len(f.Types) > 0 {
		m.types = make(map[model.MemoryType]bool, len(f.Types))
		for _, t := range f.Types {
			m.types[t] = true
		}
	}
	if len(f.Scopes) > 0 {
		m.scopes = make(map[model.Scope]bool, len(f.Scopes))
		for _, sc := range f.Scopes {
			m.scopes[sc] = true
		}
	}
	return m, nil
}

func (m *matcher) match(ix model.IndexEntry) (bool, error) {
	f := m.f
	if ix.Archived && !f.IncludeArchived {
		return false, nil
	}
	if ix.SupersededBy != "" && !f.IncludeSuperseded {
		return false, nil
	}
	if m.types != nil && !m.types[ix.Type] {
		return false, nil
	}
	if m.scopes != nil && !m.scopes[ix.Scope] {
		return false, nil
	}
	if f.AgentID != "" && ix.AgentID != f.AgentID {
		return false, nil
	}
	if f.VisibleTo != "" && !VisibleTo(ix, f.VisibleTo) {
		return false, nil
	}
	if ix.Importance < f.MinImportance {
		return false, nil
	}
	if len(f.Tags) > 0 {
		found := false
		for _, t := range f.Tags {
			if ix.HasTag(t) {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	if m.program != nil {
		out, err := expr.Run(m.program, whereEnv(ix, m.nowMs))
		if err != nil {
			return false, fmt.Errorf("evaluate filter on %s: %w", ix.ID, err)
		}
		if ok, _ := out.(bool); !ok {
			return false, nil
		}
	}
	return true, nil
}

// VisibleTo reports whether agentID may read ix.
func VisibleTo(ix model.IndexEntry, agentID string) bool {
	if ix.Scope != model.ScopeAgent {
		return true
	}
	return ix.AgentID == "" || ix.AgentID == agentID
}

// sortIndex orders entries newest first, breaking ties by ID descending.
func sortIndex(ixs []model.IndexEntry) {
	sort.Slice(ixs, func(i, j int) bool {
		if ixs[i].CreatedAt != ixs[j].CreatedAt {
			return ixs[i].CreatedAt > ixs[j].CreatedAt
		}
		return ixs[i].ID > ixs[j].ID
	})
}

// Query scans the index. It never touches the backend.
func (s *Store) Query(f Filter) ([]model.IndexEntry, error) {
	m, err := newMatcher(f, s.opts.Now().UnixMilli())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := []model.IndexEntry{}
	for _, ix := range s.index {
		ok, err := m.match(ix)
		if err != nil {
			return nil, err
		}
		if ok {
			ix.Tags = append([]string(nil), ix.Tags...)
			out = append(out, ix)
		}
	}
	sortIndex(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// QueryForAgent returns entries visible to agentID.
func (s *Store) QueryForAgent(agentID string, f Filter) ([]model.IndexEntry, error) {
	f.VisibleTo = agentID
	return s.Query(f)
}

// SearchByTags returns entries carrying any of tags.
func (s *Store) SearchByTags(tags []string, f Filter) ([]model.IndexEntry, error) {
	f.Tags = tags
	return s.Query(f)
}

// GetRecent returns the newest limit entries matching f.
func (s *Store) GetRecent(limit int, f Filter) ([]model.IndexEntry, error) {
	f.Limit = limit
	return s.Query(f)
}

// Count returns the number of entries matching f.
func (s *Store) Count(f Filter) (int, error) {
	f.Limit = 0
	out, err := s.Query(f)
	return len(out), err
}
