// Package summarizer consolidates stored memories: it writes conversation
// summaries, archives aged short-term entries, and merges near-duplicates
// into a single canonical entry. The model is an optional helper; every
// LLM failure leaves the store untouched.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rcliao/crew-memory/internal/keywords"
	"github.com/rcliao/crew-memory/internal/llm"
	"github.com/rcliao/crew-memory/internal/metrics"
	"github.com/rcliao/crew-memory/internal/model"
	"github.com/rcliao/crew-memory/internal/store"
)

const (
	DefaultShortTermArchiveDays = 7
	DefaultMergeThreshold       = 50
	DefaultPrefixRatio          = 0.7
	DefaultMinPrefixLen         = 5
	DefaultOverlapThreshold     = 0.6
	DefaultMinSummaryMessages   = 4

	maxPromptMessages = 30
	maxMessageChars   = 300
	maxSummaryChars   = 100
)

var (
	ErrNoClient         = errors.New("no llm client configured")
	ErrTooFewMessages   = errors.New("not enough messages to summarize")
	ErrEmptyResponse    = errors.New("llm returned an empty response")
	ErrMalformedMerge   = errors.New("malformed merge response")
	ErrNothingToMerge   = errors.New("merge group needs at least two entries")
	ErrSummaryNotStored = errors.New("summary could not be stored")
)

// Options configures a Summarizer. Zero values select defaults.
type Options struct {
	ShortTermArchiveDays int
	MergeThreshold       int
	PrefixRatio          float64
	MinPrefixLen         int
	OverlapThreshold     float64
	MinSummaryMessages   int
	Model                string
	Keywords             *keywords.Extractor
	Now                  func() time.Time
	Logger               *slog.Logger
	Metrics              *metrics.Metrics
}

// Summarizer writes consolidated entries into a store.
type Summarizer struct {
	store   *store.Store
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	client llm.Client
}

// New returns a Summarizer over s. client may be nil and set later.
func New(s *store.Store, client llm.Client, opts Options) *Summarizer {
	if opts.ShortTermArchiveDays <= 0 {
		opts.ShortTermArchiveDays = DefaultShortTermArchiveDays
	}
	if opts.MergeThreshold <= 0 {
		opts.MergeThreshold = DefaultMergeThreshold
	}
	if opts.PrefixRatio <= 0 {
		opts.PrefixRatio = DefaultPrefixRatio
	}
	if opts.MinPrefixLen <= 0 {
		opts.MinPrefixLen = DefaultMinPrefixLen
	}
	if opts.OverlapThreshold <= 0 {
		opts.OverlapThreshold = DefaultOverlapThreshold
	}
	if opts.MinSummaryMessages <= 0 {
		opts.MinSummaryMessages = DefaultMinSummaryMessages
	}
	if opts.Now == nil {
		opts.Now = s.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Summarizer{
		store:   s,
		opts:    opts,
		log:     opts.Logger.With("component", "summarizer"),
		metrics: opts.Metrics,
		client:  client,
	}
}

// SetClient replaces the LLM client.
func (z *Summarizer) SetClient(c llm.Client) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.client = c
}

// HasClient reports whether an LLM client is configured.
func (z *Summarizer) HasClient() bool {
	return z.llm() != nil
}

func (z *Summarizer) llm() llm.Client {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.client
}

func (z *Summarizer) chat(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	c := z.llm()
	if c == nil {
		return "", ErrNoClient
	}
	temp := 0.2
	resp, err := c.Chat(ctx, llm.ChatRequest{
		Model:       z.opts.Model,
		System:      system,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// ConversationSummary identifies the conversation to summarize.
type ConversationSummary struct {
	ConversationID string
	AgentID        string
	RelatedAgents  []string
	Messages       []model.Message
}

const summarySystem = "You condense multi-agent work conversations into durable memory notes."

const summaryPrompt = `Summarize the conversation below for future reference.
Focus on decisions made, facts learned, open questions and agreed next steps.
Start with a single-line headline of at most 100 characters, then the details.
Write in the language of the conversation.

Conversation:
%s`

// SummarizeConversation asks the model for a summary of the last messages
// and stores it as a conversation_summary entry.
func (z *Summarizer) SummarizeConversation(ctx context.Context, req ConversationSummary) (model.Entry, error) {
	if len(req.Messages) < z.opts.MinSummaryMessages {
		return model.Entry{}, fmt.Errorf("%w: have %d, need %d", ErrTooFewMessages, len(req.Messages), z.opts.MinSummaryMessages)
	}

	text, err := z.chat(ctx, summarySystem, fmt.Sprintf(summaryPrompt, FormatTranscript(req.Messages)), 1024)
	if err != nil {
		z.log.Warn("conversation summary failed", "conversation", req.ConversationID, "error", err)
		return model.Entry{}, fmt.Errorf("summarize %s: %w", req.ConversationID, err)
	}

	e, err := z.store.Create(model.Input{
		Type:          model.TypeConversationSummary,
		Content:       text,
		Summary:       Headline(text),
		AgentID:       req.AgentID,
		RelatedAgents: req.RelatedAgents,
		Source:        model.Source{Type: model.SourceConversation, ConversationID: req.ConversationID},
	})
	if err != nil {
		return model.Entry{}, fmt.Errorf("%w: %v", ErrSummaryNotStored, err)
	}
	z.log.Info("conversation summarized", "conversation", req.ConversationID, "id", e.ID)
	return e, nil
}

// FormatTranscript renders the last 30 messages, each cut to 300
// characters.
func FormatTranscript(msgs []model.Message) string {
	if len(msgs) > maxPromptMessages {
		msgs = msgs[len(msgs)-maxPromptMessages:]
	}
	var b strings.Builder
	for _, m := range msgs {
		sender := m.Sender
		if sender == "" {
			sender = "unknown"
		}
		fmt.Fprintf(&b, "%s: %s\n", sender, truncate(strings.TrimSpace(m.Content), maxMessageChars))
	}
	return b.String()
}

// Headline returns the first non-empty line of text, stripped of markdown
// markers and cut to 100 characters.
func Headline(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#*->"))
		if line != "" {
			return truncate(line, maxSummaryChars)
		}
	}
	return truncate(strings.TrimSpace(text), maxSummaryChars)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// ArchiveExpiredShortTerm archives short-term entries older than the
// configured number of days.
func (z *Summarizer) ArchiveExpiredShortTerm() (int, error) {
	cutoff := z.opts.Now().Add(-time.Duration(z.opts.ShortTermArchiveDays) * 24 * time.Hour).UnixMilli()
	live, err := z.store.Query(store.Filter{Types: model.TypesInTier(model.TierShortTerm)})
	if err != nil {
		return 0, fmt.Errorf("short-term scan: %w", err)
	}
	var ids []string
	for _, ix := range live {
		if ix.CreatedAt < cutoff {
			ids = append(ids, ix.ID)
		}
	}
	n, err := z.store.UpdateMany(ids, func(e *model.Entry) bool {
		if e.Archived {
			return false
		}
		e.Archived = true
		return true
	})
	if err != nil {
		return n, fmt.Errorf("short-term archive: %w", err)
	}
	z.metrics.Archived("short_term", n)
	z.log.Info("short-term archival complete", "archived", n)
	return n, nil
}
