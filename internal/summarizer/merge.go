package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rcliao/crew-memory/internal/keywords"
	"github.com/rcliao/crew-memory/internal/model"
	"github.com/rcliao/crew-memory/internal/store"
)

// Similar reports whether two summaries describe the same thing: equal
// after normalization, one containing the leading PrefixRatio of the
// other, or sharing more than OverlapThreshold of their keywords.
func (z *Summarizer) Similar(a, b string) bool {
	na := strings.ToLower(strings.TrimSpace(a))
	nb := strings.ToLower(strings.TrimSpace(b))
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	if z.prefixContained(na, nb) || z.prefixContained(nb, na) {
		return true
	}
	return keywords.Overlap(z.opts.Keywords.Extract(na), z.opts.Keywords.Extract(nb)) > z.opts.OverlapThreshold
}

func (z *Summarizer) prefixContained(x, y string) bool {
	r := []rune(x)
	n := int(float64(len(r)) * z.opts.PrefixRatio)
	if n < z.opts.MinPrefixLen {
		return false
	}
	return strings.Contains(y, string(r[:n]))
}

// Group clusters entries greedily in creation order. Each unclaimed entry
// seeds a group and pulls in every later unclaimed entry with the same
// owner and a similar summary. Only groups of two or more are returned.
func (z *Summarizer) Group(entries []model.IndexEntry) [][]model.IndexEntry {
	sorted := append([]model.IndexEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt != sorted[j].CreatedAt {
			return sorted[i].CreatedAt < sorted[j].CreatedAt
		}
		return sorted[i].ID < sorted[j].ID
	})

	used := make([]bool, len(sorted))
	var groups [][]model.IndexEntry
	for i := range sorted {
		if used[i] {
			continue
		}
		group := []model.IndexEntry{sorted[i]}
		for j := i + 1; j < len(sorted); j++ {
			if used[j] || sorted[j].AgentID != sorted[i].AgentID {
				continue
			}
			if z.Similar(sorted[i].Summary, sorted[j].Summary) {
				group = append(group, sorted[j])
				used[j] = true
			}
		}
		if len(group) >= 2 {
			used[i] = true
			groups = append(groups, group)
		}
	}
	return groups
}

// MergeReport summarizes one merge pass.
type MergeReport struct {
	TypesScanned []string `json:"typesScanned"`
	Groups       int      `json:"groups"`
	Merged       int      `json:"merged"`
	Failed       int      `json:"failed"`
	Superseded   int      `json:"superseded"`
	Skipped      string   `json:"skipped,omitempty"`
}

// MergeSimilarMemories merges near-duplicate entries of every type whose
// live count exceeds the merge threshold. A failed group is left as is and
// retried on a later pass.
func (z *Summarizer) MergeSimilarMemories(ctx context.Context) (MergeReport, error) {
	var rep MergeReport
	if !z.HasClient() {
		rep.Skipped = ErrNoClient.Error()
		z.log.Debug("merge skipped", "reason", rep.Skipped)
		return rep, nil
	}

	for _, t := range model.Types() {
		live, err := z.store.Query(store.Filter{Types: []model.MemoryType{t}})
		if err != nil {
			return rep, fmt.Errorf("merge scan %s: %w", t, err)
		}
		if len(live) <= z.opts.MergeThreshold {
			continue
		}
		rep.TypesScanned = append(rep.TypesScanned, string(t))

		for _, group := range z.Group(live) {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			rep.Groups++
			merged, err := z.MergeGroup(ctx, group)
			if err != nil {
				rep.Failed++
				z.metrics.Merge("failed")
				z.log.Warn("merge group failed", "type", t, "size", len(group), "error", err)
				continue
			}
			rep.Merged++
			rep.Superseded += len(group)
			z.metrics.Merge("ok")
			z.log.Info("merged similar memories", "type", t, "id", merged.ID, "superseded", len(group))
		}
	}
	return rep, nil
}

const mergeSystem = "You consolidate duplicate memory notes into one canonical note. Reply with JSON only."

const mergePrompt = `The following memory entries describe the same subject.
Merge them into a single entry that keeps every distinct detail and drops repetition.
Reply with a JSON object of the form:
{"content": "...", "summary": "at most 100 characters", "tags": ["..."], "importance": 0.0}

Entries:
%s`

// MergeResult is the model's consolidated entry.
type MergeResult struct {
	Content    string   `json:"content"`
	Summary    string   `json:"summary"`
	Tags       []string `json:"tags"`
	Importance *float64 `json:"importance"`
}

// ParseMergeResponse extracts the JSON object from a reply, tolerating
// markdown code fences and surrounding prose.
func ParseMergeResponse(text string) (MergeResult, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return MergeResult{}, fmt.Errorf("%w: no JSON object", ErrMalformedMerge)
	}
	var res MergeResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &res); err != nil {
		return MergeResult{}, fmt.Errorf("%w: %v", ErrMalformedMerge, err)
	}
	res.Content = strings.TrimSpace(res.Content)
	res.Summary = strings.TrimSpace(res.Summary)
	if res.Content == "" || res.Summary == "" {
		return MergeResult{}, fmt.Errorf("%w: content and summary are required", ErrMalformedMerge)
	}
	return res, nil
}

// MergeGroup consolidates group into one new entry and tombstones the
// originals with supersededBy. The new entry keeps the highest importance,
// the union of tags and the summed access count.
func (z *Summarizer) MergeGroup(ctx context.Context, group []model.IndexEntry) (model.Entry, error) {
	if len(group) < 2 {
		return model.Entry{}, ErrNothingToMerge
	}

	originals := make([]model.Entry, 0, len(group))
	for _, ix := range group {
		e, err := z.store.Get(ix.ID)
		if err != nil {
			return model.Entry{}, err
		}
		originals = append(originals, e)
	}

	var listing strings.Builder
	for i, e := range originals {
		fmt.Fprintf(&listing, "%d. summary: %s\n   content: %s\n", i+1, e.Summary, truncate(e.Content, 1000))
	}
	text, err := z.chat(ctx, mergeSystem, fmt.Sprintf(mergePrompt, listing.String()), 1024)
	if err != nil {
		return model.Entry{}, err
	}
	res, err := ParseMergeResponse(text)
	if err != nil {
		return model.Entry{}, err
	}

	var (
		ids           []string
		tags          []string
		relatedAgents []string
		importance    float64
		accessCount   int
	)
	for _, e := range originals {
		ids = append(ids, e.ID)
		tags = append(tags, e.Tags...)
		relatedAgents = append(relatedAgents, e.RelatedAgents...)
		accessCount += e.AccessCount
		if e.Importance > importance {
			importance = e.Importance
		}
	}
	tags = append(tags, res.Tags...)

	first := originals[0]
	merged, err := z.store.CreateProtected(model.Input{
		Type:             first.Type,
		Content:          res.Content,
		Summary:          truncate(res.Summary, maxSummaryChars),
		Scope:            first.Scope,
		AgentID:          first.AgentID,
		Source:           model.Source{Type: model.SourceSystem},
		Tags:             tags,
		RelatedAgents:    relatedAgents,
		RelatedMemoryIDs: ids,
		Importance:       &importance,
	}, ids)
	if err != nil {
		return model.Entry{}, fmt.Errorf("store merged entry: %w", err)
	}
	if accessCount > 0 {
		merged, err = z.store.Update(merged.ID, model.Patch{AccessCount: &accessCount})
		if err != nil {
			return model.Entry{}, fmt.Errorf("set merged access count: %w", err)
		}
	}

	n, err := z.store.UpdateMany(ids, func(e *model.Entry) bool {
		e.SupersededBy = merged.ID
		return true
	})
	if err != nil {
		return merged, fmt.Errorf("tombstone originals: %w", err)
	}
	if n != len(ids) {
		return merged, fmt.Errorf("tombstone originals: %d of %d still present", n, len(ids))
	}
	return merged, nil
}
