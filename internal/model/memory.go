// Package model defines the core memory data types.
package model

import (
	"slices"
	"strings"
)

// MemoryType classifies a memory entry. It decides the default scope,
// the default importance and the shard the entry is persisted to.
type MemoryType string

const (
	TypeDecision            MemoryType = "decision"
	TypeFact                MemoryType = "fact"
	TypePreference          MemoryType = "preference"
	TypeProjectContext      MemoryType = "project_context"
	TypeLesson              MemoryType = "lesson"
	TypeExpertise           MemoryType = "expertise"
	TypeConversationSummary MemoryType = "conversation_summary"
	TypeTaskResult          MemoryType = "task_result"
	TypeProcedure           MemoryType = "procedure"
	TypeUserProfile         MemoryType = "user_profile"
	TypeCompanyFact         MemoryType = "company_fact"
	TypeConsensus           MemoryType = "consensus"
)

// Scope is the visibility tier of a memory.
type Scope string

const (
	ScopeAgent  Scope = "agent"
	ScopeUser   Scope = "user"
	ScopeShared Scope = "shared"
)

// Tier groups memory types by retention class.
type Tier string

const (
	TierShortTerm Tier = "short-term"
	TierLongTerm  Tier = "long-term"
	TierShared    Tier = "shared"
	TierUser      Tier = "user"
	TierAgent     Tier = "agents"
)

// SourceType records where a memory came from.
type SourceType string

const (
	SourceConversation  SourceType = "conversation"
	SourceTask          SourceType = "task"
	SourceCommunication SourceType = "communication"
	SourceManual        SourceType = "manual"
	SourceSystem        SourceType = "system"
)

// Source is the provenance of an entry.
type Source struct {
	Type           SourceType `json:"type"`
	ConversationID string     `json:"conversationId,omitempty"`
	TaskID         string     `json:"taskId,omitempty"`
}

// Entry is a full memory record as persisted in a shard file.
type Entry struct {
	ID               string     `json:"id"`
	Type             MemoryType `json:"type"`
	Content          string     `json:"content"`
	Summary          string     `json:"summary"`
	Scope            Scope      `json:"scope"`
	AgentID          string     `json:"agentId,omitempty"`
	Source           Source     `json:"source"`
	Tags             []string   `json:"tags"`
	RelatedAgents    []string   `json:"relatedAgents"`
	RelatedMemoryIDs []string   `json:"relatedMemoryIds"`
	CreatedAt        int64      `json:"createdAt"`
	LastAccessedAt   int64      `json:"lastAccessedAt"`
	AccessCount      int        `json:"accessCount"`
	Importance       float64    `json:"importance"`
	Archived         bool       `json:"archived"`
	SupersededBy     string     `json:"supersededBy,omitempty"`
}

// IndexEntry is the in-memory projection of an Entry used for filtering
// without touching shard files.
type IndexEntry struct {
	ID             string     `json:"id"`
	Type           MemoryType `json:"type"`
	Scope          Scope      `json:"scope"`
	AgentID        string     `json:"agentId,omitempty"`
	Tags           []string   `json:"tags"`
	Importance     float64    `json:"importance"`
	CreatedAt      int64      `json:"createdAt"`
	LastAccessedAt int64      `json:"lastAccessedAt"`
	AccessCount    int        `json:"accessCount"`
	Archived       bool       `json:"archived"`
	SupersededBy   string     `json:"supersededBy,omitempty"`
	Summary        string     `json:"summary"`
}

// Index returns the index projection of e.
func (e Entry) Index() IndexEntry {
	return IndexEntry{
		ID:             e.ID,
		Type:           e.Type,
		Scope:          e.Scope,
		AgentID:        e.AgentID,
		Tags:           slices.Clone(e.Tags),
		Importance:     e.Importance,
		CreatedAt:      e.CreatedAt,
		LastAccessedAt: e.LastAccessedAt,
		AccessCount:    e.AccessCount,
		Archived:       e.Archived,
		SupersededBy:   e.SupersededBy,
		Summary:        e.Summary,
	}
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	e.Tags = slices.Clone(e.Tags)
	e.RelatedAgents = slices.Clone(e.RelatedAgents)
	e.RelatedMemoryIDs = slices.Clone(e.RelatedMemoryIDs)
	return e
}

// Live reports whether the entry is visible to default queries.
func (ix IndexEntry) Live() bool {
	return !ix.Archived && ix.SupersededBy == ""
}

// HasTag reports whether ix carries tag, ignoring case.
func (ix IndexEntry) HasTag(tag string) bool {
	for _, t := range ix.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// TypeInfo holds the per-type defaults.
type TypeInfo struct {
	Scope      Scope
	Importance float64
	Tier       Tier
	File       string // shard file name inside the tier directory
	PerAgent   bool   // sharded by agent instead of by type
	Label      string // human label used in prompt context
}

var typeInfos = map[MemoryType]TypeInfo{
	TypeDecision:            {Scope: ScopeShared, Importance: 0.8, Tier: TierLongTerm, File: "decisions.json", Label: "Decision"},
	TypeFact:                {Scope: ScopeShared, Importance: 0.6, Tier: TierLongTerm, File: "facts.json", Label: "Fact"},
	TypePreference:          {Scope: ScopeUser, Importance: 0.7, Tier: TierLongTerm, File: "preferences.json", Label: "Preference"},
	TypeLesson:              {Scope: ScopeAgent, Importance: 0.7, Tier: TierLongTerm, File: "lessons.json", Label: "Lesson"},
	TypeProcedure:           {Scope: ScopeShared, Importance: 0.6, Tier: TierLongTerm, File: "procedures.json", Label: "Procedure"},
	TypeConversationSummary: {Scope: ScopeAgent, Importance: 0.4, Tier: TierShortTerm, File: "conversation-summaries.json", Label: "Conversation"},
	TypeTaskResult:          {Scope: ScopeAgent, Importance: 0.5, Tier: TierShortTerm, File: "task-summaries.json", Label: "Task Result"},
	TypeCompanyFact:         {Scope: ScopeShared, Importance: 0.8, Tier: TierShared, File: "company.json", Label: "Company"},
	TypeProjectContext:      {Scope: ScopeShared, Importance: 0.7, Tier: TierShared, File: "projects.json", Label: "Project"},
	TypeConsensus:           {Scope: ScopeShared, Importance: 0.85, Tier: TierShared, File: "consensus.json", Label: "Consensus"},
	TypeUserProfile:         {Scope: ScopeUser, Importance: 0.9, Tier: TierUser, File: "profile.json", Label: "User Profile"},
	TypeExpertise:           {Scope: ScopeAgent, Importance: 0.6, Tier: TierAgent, PerAgent: true, Label: "Expertise"},
}

// Lookup returns the defaults for t.
func Lookup(t MemoryType) (TypeInfo, bool) {
	s, ok := typeInfos[t]
	return s, ok
}

// Types returns every known memory type in a stable order.
func Types() []MemoryType {
	return []MemoryType{
		TypeDecision, TypeFact, TypePreference, TypeProjectContext, TypeLesson, TypeExpertise,
		TypeConversationSummary, TypeTaskResult, TypeProcedure, TypeUserProfile, TypeCompanyFact, TypeConsensus,
	}
}

// TypesInTier returns the types whose shards live in tier.
func TypesInTier(tier Tier) []MemoryType {
	var out []MemoryType
	for _, t := range Types() {
		if typeInfos[t].Tier == tier {
			out = append(out, t)
		}
	}
	return out
}

// ValidScopes are the allowed visibility tiers.
var ValidScopes = map[Scope]bool{
	ScopeAgent:  true,
	ScopeUser:   true,
	ScopeShared: true,
}

// ValidSources are the allowed provenance kinds.
var ValidSources = map[SourceType]bool{
	SourceConversation:  true,
	SourceTask:          true,
	SourceCommunication: true,
	SourceManual:        true,
	SourceSystem:        true,
}

// Message is one turn of a conversation between agents or with the user.
type Message struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp,omitempty"`
}
