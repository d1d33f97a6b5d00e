// Package chat runs intake conversations end to end: it serializes turns per
// session, extracts fields from each message, lets the reasoner decide,
// persists the session and books the consultation once the patient confirms.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"medintake/internal/config"
	"medintake/internal/logging"
	"medintake/internal/perception"
	"medintake/internal/reasoning"
	"medintake/internal/session"
	"medintake/internal/store"
	"medintake/internal/usage"
	"medintake/internal/validation"
)

const (
	// batchConcurrency bounds ValidateBatch.
	batchConcurrency = 4
	// slowTurn is when a turn is logged as slow.
	slowTurn = 10 * time.Second
)

// Reply is the outcome of one message.
type Reply struct {
	SessionID string `json:"session_id"`
	reasoning.Decision
	// Source names the extractor that produced the fields.
	Source string `json:"source,omitempty"`
	// ConsultationID is set on the turn that booked a consultation.
	ConsultationID int64 `json:"consultation_id,omitempty"`
}

// Service is safe for concurrent use. Turns of one session run one at a time;
// different sessions proceed in parallel.
type Service struct {
	mu         sync.RWMutex
	components *Components
	sessions   session.Store
	locks      *session.KeyedMutex
	db         *store.Store
	ttl        time.Duration
	usage      *usage.Tracker
}

// NewService wires a service. db may be nil, in which case nothing is booked
// or audited.
func NewService(c *Components, sessions session.Store, db *store.Store, ttl time.Duration) *Service {
	if sessions == nil {
		sessions = session.NewMemoryStore()
	}
	return &Service{
		components: c,
		sessions:   sessions,
		locks:      session.NewKeyedMutex(),
		db:         db,
		ttl:        ttl,
	}
}

// WithUsage attaches a tracker that accounts the tokens spent by LLM
// extraction.
func (s *Service) WithUsage(t *usage.Tracker) *Service {
	s.usage = t
	return s
}

// Usage returns the token usage recorded so far.
func (s *Service) Usage() usage.AggregatedStats {
	return s.usage.Stats()
}

func (s *Service) current() *Components {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.components
}

// Reconfigure rebuilds the pipeline from cfg. In-flight turns finish with the
// components they started with.
func (s *Service) Reconfigure(ctx context.Context, cfg *config.Config) error {
	c, err := BuildComponents(ctx, cfg, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.components = c
	s.ttl = cfg.GetSessionTTL()
	s.mu.Unlock()
	logging.Chat("pipeline reconfigured: extractor=%s mode=%s", c.Extractor.Name(), c.Mode)
	return nil
}

// Extractor returns the name of the active extractor.
func (s *Service) Extractor() string {
	return s.current().Extractor.Name()
}

// Send processes one user message. An empty sessionID starts a new session;
// an unknown one is created under that ID.
func (s *Service) Send(ctx context.Context, sessionID, message string) (Reply, error) {
	timer := logging.StartTimer(logging.CategoryChat, "Send")
	defer timer.StopWithThreshold(slowTurn)

	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, fmt.Errorf("empty message")
	}
	if sessionID == "" {
		sessionID = session.NewID()
	}
	log := logging.ForSession(logging.CategoryChat, sessionID)

	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return Reply{}, fmt.Errorf("waiting for session %s: %w", sessionID, err)
	}
	defer unlock()

	sc, err := s.loadOrCreate(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	wasConfirmed := sc.Confirmed

	c := s.current()
	exCtx := usage.WithSession(ctx, sessionID)
	if s.usage != nil {
		exCtx = usage.NewContext(exCtx, s.usage)
	}
	ex, exErr := c.Extractor.Extract(exCtx, message, sc)
	if exErr != nil {
		log.Warn("extraction failed: %v", exErr)
		if ex.Success {
			ex = perception.Failed(c.Extractor.Name(), exErr)
		}
	}
	if ctx.Err() != nil {
		return Reply{}, ctx.Err()
	}

	d := c.Reasoner.ProcessTurn(ctx, message, sc, ex)
	reply := Reply{SessionID: sessionID, Decision: d, Source: ex.Source}
	s.audit(ctx, sessionID, message, ex, d)

	if d.Action == session.ActionError {
		return reply, nil
	}
	if err := s.sessions.Update(ctx, sc); err != nil {
		return reply, fmt.Errorf("failed to save session %s: %w", sessionID, err)
	}

	if d.Action == session.ActionComplete && !wasConfirmed {
		id, err := s.book(ctx, sc)
		if err != nil {
			return reply, err
		}
		reply.ConsultationID = id
		log.Info("booked consultation #%d", id)
	}
	logging.Get(logging.CategoryChat).StructuredLog("info", "turn", map[string]interface{}{
		"session_id":  sessionID,
		"action":      string(d.Action),
		"confidence":  d.Confidence,
		"source":      ex.Source,
		"anticipated": len(d.Anticipated),
	})
	return reply, nil
}

func (s *Service) loadOrCreate(ctx context.Context, id string) (*session.Context, error) {
	sc, err := s.sessions.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		logging.ChatDebug("session %s: starting new conversation", id)
		sc, err = s.sessions.Create(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return sc, nil
}

func (s *Service) book(ctx context.Context, sc *session.Context) (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	c := store.FromRecord(sc.ID, sc.Extracted, sc.AverageConfidence)
	c.Status = store.StatusConfirmed
	if err := s.db.CreateConsultation(ctx, c); err != nil {
		return 0, fmt.Errorf("failed to book consultation: %w", err)
	}
	return c.ID, nil
}

func (s *Service) audit(ctx context.Context, sessionID, message string, ex perception.Result, d reasoning.Decision) {
	if s.db == nil {
		return
	}
	entry := &store.ExtractionLog{
		SessionID:  sessionID,
		Message:    message,
		Source:     ex.Source,
		Success:    ex.Success,
		Extracted:  ex.Data,
		Confidence: ex.Confidence,
		Action:     string(d.Action),
		Error:      ex.Err,
	}
	if d.Validation != nil {
		entry.ValidationErrors = d.Validation.TotalErrors
	}
	if err := s.db.LogExtraction(ctx, entry); err != nil {
		logging.ChatWarn("session %s: failed to audit extraction: %v", sessionID, err)
	}
}

// Validate maps and validates a raw record. An empty mode uses the
// configured one.
func (s *Service) Validate(record map[string]string, mode validation.Mode) validation.NormalizationResult {
	return s.normalizer(mode).Normalize(record)
}

// ValidateBatch validates independent records concurrently.
func (s *Service) ValidateBatch(ctx context.Context, records []map[string]string, mode validation.Mode) ([]validation.NormalizationResult, error) {
	return s.normalizer(mode).NormalizeBatch(ctx, records, batchConcurrency)
}

func (s *Service) normalizer(mode validation.Mode) *validation.Normalizer {
	c := s.current()
	if mode == "" {
		mode = c.Mode
	}
	return validation.NewNormalizer(c.Orchestrator, mode)
}

// Session returns a copy of a session context.
func (s *Service) Session(ctx context.Context, id string) (*session.Context, error) {
	return s.sessions.Get(ctx, id)
}

// StartSession creates an empty session. An empty id gets a generated one.
func (s *Service) StartSession(ctx context.Context, id string) (*session.Context, error) {
	if id == "" {
		id = session.NewID()
	}
	return s.sessions.Create(ctx, id)
}

// EndSession deletes a session.
func (s *Service) EndSession(ctx context.Context, id string) error {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	return s.sessions.Delete(ctx, id)
}

// Sessions lists session summaries, most recent first.
func (s *Service) Sessions(ctx context.Context) ([]session.Summary, error) {
	return s.sessions.List(ctx)
}

// ExpireIdle removes sessions idle for longer than the configured TTL.
func (s *Service) ExpireIdle(ctx context.Context) (int, error) {
	s.mu.RLock()
	ttl := s.ttl
	s.mu.RUnlock()
	if ttl <= 0 {
		return 0, nil
	}
	return s.sessions.Expire(ctx, ttl)
}

// RunJanitor calls ExpireIdle every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := s.ExpireIdle(ctx); err != nil {
				logging.ChatWarn("session expiry failed: %v", err)
			} else if n > 0 {
				logging.Chat("expired %d idle sessions", n)
			}
		}
	}
}

// Store returns the consultation store, or nil.
func (s *Service) Store() *store.Store {
	return s.db
}
