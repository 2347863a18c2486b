package model

import (
	"errors"
	"testing"
	"time"
)

func ptr[T any](v T) *T { return &v }

func TestNewEntryDefaults(t *testing.T) {
	e, err := NewEntry(Input{
		Type:    TypeDecision,
		Content: "We picked Postgres",
		Summary: "  Postgres chosen  ",
		Tags:    []string{"db", "db", "", "infra"},
	}, "01ABC", 1000)
	if err != nil {
		t.Fatalf("new entry: %v", err)
	}
	if e.Scope != ScopeShared {
		t.Errorf("expected shared scope, got %q", e.Scope)
	}
	if e.Importance != 0.8 {
		t.Errorf("expected importance 0.8, got %v", e.Importance)
	}
	if e.Summary != "Postgres chosen" {
		t.Errorf("summary not trimmed: %q", e.Summary)
	}
	if len(e.Tags) != 2 || e.Tags[0] != "db" || e.Tags[1] != "infra" {
		t.Errorf("tags not deduped: %v", e.Tags)
	}
	if e.LastAccessedAt != e.CreatedAt || e.AccessCount != 0 || e.Archived {
		t.Errorf("unexpected bookkeeping: %+v", e)
	}
	if e.Source.Type != SourceManual {
		t.Errorf("expected manual source, got %q", e.Source.Type)
	}
	if e.RelatedAgents == nil || e.RelatedMemoryIDs == nil {
		t.Error("expected empty, non-nil relation slices")
	}
}

func TestEveryTypeHasDefaults(t *testing.T) {
	for _, typ := range Types() {
		info, ok := Lookup(typ)
		if !ok {
			t.Fatalf("missing type info for %s", typ)
		}
		if !ValidScopes[info.Scope] {
			t.Errorf("%s: bad default scope %q", typ, info.Scope)
		}
		if info.Importance < 0 || info.Importance > 1 {
			t.Errorf("%s: default importance out of range", typ)
		}
		if info.Label == "" {
			t.Errorf("%s: missing label", typ)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		in   Input
		want error
	}{
		{"unknown type", Input{Type: "gossip", Content: "c", Summary: "s"}, ErrUnknownType},
		{"high importance", Input{Type: TypeFact, Content: "c", Summary: "s", Importance: ptr(1.5)}, ErrImportanceRange},
		{"negative importance", Input{Type: TypeFact, Content: "c", Summary: "s", Importance: ptr(-0.1)}, ErrImportanceRange},
		{"no content", Input{Type: TypeFact, Summary: "s"}, ErrMissingContent},
		{"no summary", Input{Type: TypeFact, Content: "c"}, ErrMissingSummary},
		{"bad scope", Input{Type: TypeFact, Content: "c", Summary: "s", Scope: "global"}, ErrInvalidScope},
		{"expertise without agent", Input{Type: TypeExpertise, Content: "c", Summary: "s"}, ErrMissingAgent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewEntry(tc.in, "id", 1)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestPatchImmutableFields(t *testing.T) {
	e, _ := NewEntry(Input{Type: TypeFact, Content: "c", Summary: "s"}, "a", 1)

	if _, err := (Patch{ID: ptr("b")}).Apply(e); !errors.Is(err, ErrImmutableField) {
		t.Errorf("expected immutable id error, got %v", err)
	}
	if _, err := (Patch{Type: ptr(TypeLesson)}).Apply(e); !errors.Is(err, ErrImmutableField) {
		t.Errorf("expected immutable type error, got %v", err)
	}
	// Same values are allowed.
	if _, err := (Patch{ID: ptr("a"), Type: ptr(TypeFact)}).Apply(e); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPatchApply(t *testing.T) {
	e, _ := NewEntry(Input{Type: TypeFact, Content: "c", Summary: "s", Tags: []string{"x"}}, "a", 1)
	out, err := Patch{
		Summary:    ptr("new"),
		Tags:       ptr([]string{"y", "y", "z"}),
		Importance: ptr(0.3),
		Archived:   ptr(true),
	}.Apply(e)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.Summary != "new" || out.Importance != 0.3 || !out.Archived {
		t.Errorf("patch not applied: %+v", out)
	}
	if len(out.Tags) != 2 {
		t.Errorf("expected deduped tags, got %v", out.Tags)
	}
	if e.Tags[0] != "x" || e.Archived {
		t.Error("original entry was mutated")
	}
	if _, err := (Patch{Importance: ptr(2.0)}).Apply(e); !errors.Is(err, ErrImportanceRange) {
		t.Errorf("expected range error, got %v", err)
	}
}

func TestIndexProjection(t *testing.T) {
	e, _ := NewEntry(Input{Type: TypeLesson, Content: "c", Summary: "s", AgentID: "dev", Tags: []string{"Go"}}, "a", 5)
	ix := e.Index()
	if ix.ID != "a" || ix.Type != TypeLesson || ix.AgentID != "dev" || ix.Summary != "s" || ix.CreatedAt != 5 {
		t.Errorf("bad projection: %+v", ix)
	}
	if !ix.Live() {
		t.Error("new entry should be live")
	}
	if !ix.HasTag("go") {
		t.Error("tag match should ignore case")
	}
	ix.SupersededBy = "b"
	if ix.Live() {
		t.Error("superseded entry should not be live")
	}
}

func TestIDGeneratorOrdered(t *testing.T) {
	g := NewIDGenerator()
	now := time.Now()
	a := g.New(now)
	b := g.New(now)
	c := g.New(now.Add(time.Millisecond))
	if !(a < b && b < c) {
		t.Errorf("ids not ordered: %s %s %s", a, b, c)
	}
}
