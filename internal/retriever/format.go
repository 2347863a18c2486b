package retriever

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rcliao/crew-memory/internal/model"
)

// CharBudget returns the character budget for maxInjectTokens.
func CharBudget(maxInjectTokens int) int {
	return int(float64(maxInjectTokens) / CharsPerToken)
}

// ContextLine renders one entry as "[Label] summary (age, importance)".
func ContextLine(e model.Entry, now time.Time) string {
	label := string(e.Type)
	if info, ok := model.Lookup(e.Type); ok {
		label = info.Label
	}
	return fmt.Sprintf("[%s] %s (%s, %s)", label, e.Summary, TimeAgo(e.CreatedAt, now), ImportanceLabel(e.Importance))
}

// FormatContext packs entries in order into at most budget characters,
// one line each. An entry that does not fit ends the block; lines are
// never truncated. It returns "" when not even the first line fits.
func (r *Retriever) FormatContext(entries []model.Entry, budget int) string {
	if budget <= 0 {
		budget = CharBudget(r.opts.MaxInjectTokens)
	}
	now := r.opts.Now()

	var (
		b    strings.Builder
		used int
	)
	for _, e := range entries {
		line := ContextLine(e, now)
		n := utf8.RuneCountInString(line)
		if used > 0 {
			n++
		}
		if used+n > budget {
			break
		}
		if used > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		used += n
	}
	return b.String()
}

// ContextForAgent recalls memories for agentID and formats them within the
// configured budget.
func (r *Retriever) ContextForAgent(agentID, query string, limit int) string {
	entries := r.Recall(Query{Text: query, AgentID: agentID, Limit: limit})
	return r.FormatContext(entries, 0)
}

// TimeAgo renders the age of an epoch-millis timestamp.
func TimeAgo(ms int64, now time.Time) string {
	d := now.Sub(time.UnixMilli(ms))
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	default:
		return fmt.Sprintf("%dmo ago", int(d/(30*24*time.Hour)))
	}
}

// ImportanceLabel buckets an importance value.
func ImportanceLabel(v float64) string {
	switch {
	case v >= 0.8:
		return "high"
	case v >= 0.5:
		return "medium"
	default:
		return "low"
	}
}
