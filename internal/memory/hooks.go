package memory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rcliao/crew-memory/internal/model"
	"github.com/rcliao/crew-memory/internal/summarizer"
)

// Extractor turns raw conversation or task text into memory candidates.
type Extractor interface {
	Extract(ctx context.Context, req ExtractionRequest) ([]model.Input, error)
}

// ExtractionRequest is one throttled extraction job.
type ExtractionRequest struct {
	// ID identifies the dispatch in logs.
	ID string

	// Key is the throttle key: a conversation id, "task:<id>" or
	// "comm:<from>:<to>".
	Key string

	ConversationID string
	TaskID         string
	AgentID        string
	RelatedAgents  []string
	Source         model.SourceType
	Messages       []model.Message
	Text           string
}

// OnNewMessage counts a message in conversationID. Every
// ExtractionIntervalMessages messages it dispatches an extraction over
// recent, subject to the per-conversation throttle. It reports whether a
// job was dispatched.
func (m *Manager) OnNewMessage(conversationID, agentID string, recent []model.Message) bool {
	m.mu.Lock()
	m.counters[conversationID]++
	if m.counters[conversationID] < m.opts.ExtractionIntervalMessages {
		m.mu.Unlock()
		return false
	}
	m.counters[conversationID] = 0
	m.mu.Unlock()

	return m.extract(ExtractionRequest{
		Key:            conversationID,
		ConversationID: conversationID,
		AgentID:        agentID,
		Source:         model.SourceConversation,
		Messages:       recent,
	})
}

// OnConversationEnd runs a final extraction, ignoring the message count
// but not the throttle, schedules a conversation summary and forgets the
// conversation's counters.
func (m *Manager) OnConversationEnd(conversationID, agentID string, relatedAgents []string, messages []model.Message) {
	m.extract(ExtractionRequest{
		Key:            conversationID,
		ConversationID: conversationID,
		AgentID:        agentID,
		RelatedAgents:  relatedAgents,
		Source:         model.SourceConversation,
		Messages:       messages,
	})

	if m.summarizer.HasClient() {
		req := summarizer.ConversationSummary{
			ConversationID: conversationID,
			AgentID:        agentID,
			RelatedAgents:  relatedAgents,
			Messages:       messages,
		}
		m.goBackground("summary", conversationID, func(ctx context.Context) {
			if _, err := m.summarizer.SummarizeConversation(ctx, req); err != nil {
				if errors.Is(err, summarizer.ErrTooFewMessages) {
					m.log.Debug("conversation too short to summarize", "conversation", conversationID)
					return
				}
				m.log.Warn("conversation summary skipped", "conversation", conversationID, "error", err)
			}
		})
	}

	m.mu.Lock()
	delete(m.counters, conversationID)
	delete(m.limiters, conversationID)
	m.mu.Unlock()
}

// OnTaskComplete stores the task result and dispatches an extraction over
// it.
func (m *Manager) OnTaskComplete(taskID, agentID, result string) StoreResult {
	res := m.Store(model.Input{
		Type:    model.TypeTaskResult,
		Content: result,
		Summary: clip(result, taskSummaryChars),
		AgentID: agentID,
		Source:  model.Source{Type: model.SourceTask, TaskID: taskID},
	})
	if !res.OK() {
		return res
	}
	m.extract(ExtractionRequest{
		Key:     "task:" + taskID,
		TaskID:  taskID,
		AgentID: agentID,
		Source:  model.SourceTask,
		Text:    result,
	})
	return res
}

// OnCommunicationComplete dispatches an extraction over an exchange
// between two agents.
func (m *Manager) OnCommunicationComplete(fromAgent, toAgent string, messages []model.Message) bool {
	return m.extract(ExtractionRequest{
		Key:           "comm:" + fromAgent + ":" + toAgent,
		AgentID:       fromAgent,
		RelatedAgents: []string{fromAgent, toAgent},
		Source:        model.SourceCommunication,
		Messages:      messages,
	})
}

// allow takes a token from key's limiter.
func (m *Manager) allow(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(m.opts.MinExtractionInterval), 1)
		m.limiters[key] = lim
	}
	return lim.AllowN(m.opts.Now(), 1)
}

func (m *Manager) extract(req ExtractionRequest) bool {
	ex := m.opts.Extractor
	if ex == nil {
		m.log.Debug("no extractor configured", "key", req.Key)
		return false
	}
	if !m.allow(req.Key) {
		m.metrics.Extraction("throttled")
		m.log.Debug("extraction throttled", "key", req.Key)
		return false
	}

	req.ID = uuid.NewString()
	return m.goBackground("extraction", req.ID, func(ctx context.Context) {
		log := m.log.With("dispatch", req.ID, "key", req.Key)
		inputs, err := ex.Extract(ctx, req)
		if err != nil {
			m.metrics.Extraction("error")
			log.Warn("extraction failed", "error", err)
			return
		}
		stored := 0
		for _, res := range m.StoreMultiple(fillRequest(req, inputs)) {
			if res.OK() {
				stored++
			}
		}
		m.metrics.Extraction("ok")
		log.Info("extraction complete", "candidates", len(inputs), "stored", stored)
	})
}

// goBackground runs fn without blocking the caller. It reports false once
// the manager is closed.
func (m *Manager) goBackground(kind, id string, fn func(ctx context.Context)) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.log.Debug("background job dropped after close", "kind", kind, "id", id)
		return false
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.tenant.RLock()
		defer m.tenant.RUnlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.opts.ExtractionTimeout)
		defer cancel()
		fn(ctx)
	}()
	return true
}

// fillRequest defaults provenance fields the extractor left empty.
func fillRequest(req ExtractionRequest, ins []model.Input) []model.Input {
	out := make([]model.Input, 0, len(ins))
	for _, in := range ins {
		if in.Source.Type == "" {
			in.Source = model.Source{
				Type:           req.Source,
				ConversationID: req.ConversationID,
				TaskID:         req.TaskID,
			}
		}
		if in.AgentID == "" {
			in.AgentID = req.AgentID
		}
		if len(in.RelatedAgents) == 0 {
			in.RelatedAgents = req.RelatedAgents
		}
		out = append(out, in)
	}
	return out
}
