// Package session holds the per-conversation state the reasoner reads and
// mutates on every turn, plus the stores that keep it between turns.
package session

import (
	"time"

	"medintake/internal/fields"

	"github.com/google/uuid"
)

// Action is the next step the intake conversation takes.
type Action string

const (
	ActionExtract  Action = "extract"
	ActionAsk      Action = "ask"
	ActionConfirm  Action = "confirm"
	ActionComplete Action = "complete"
	ActionError    Action = "error"
)

// Progression describes the order in which a user supplies fields.
type Progression string

const (
	ProgressionSequential   Progression = "sequential"
	ProgressionRandom       Progression = "random"
	ProgressionUndetermined Progression = "undetermined"
)

// DefaultHistoryLimit caps the number of turns a context keeps.
const DefaultHistoryLimit = 20

// Turn is one user message and the decision taken for it.
type Turn struct {
	At          time.Time     `json:"at"`
	UserMessage string        `json:"user_message"`
	Action      Action        `json:"action"`
	Response    string        `json:"response"`
	Confidence  float64       `json:"confidence"`
	Snapshot    fields.Record `json:"snapshot"`
}

// Context is the mutable state of one intake conversation.
type Context struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Extracted fields.Record `json:"extracted"`
	History   []Turn        `json:"history"`

	TotalConfidence   float64 `json:"total_confidence"`
	ConfidenceCount   int     `json:"confidence_count"`
	AverageConfidence float64 `json:"average_confidence"`

	LastAction   Action `json:"last_action,omitempty"`
	LastResponse string `json:"last_response,omitempty"`

	RepetitionCount int `json:"repetition_count"`
	ConsecutiveAsks int `json:"consecutive_asks"`

	Progression        Progression `json:"progression"`
	CompletionStrategy string      `json:"completion_strategy,omitempty"`

	AwaitingConfirmation bool `json:"awaiting_confirmation"`
	Confirmed            bool `json:"confirmed"`

	// Version is bumped by the store on every successful update.
	Version int64 `json:"version"`
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

// New returns an empty context. An empty id gets a generated one.
func New(id string, now time.Time) *Context {
	if id == "" {
		id = NewID()
	}
	return &Context{
		ID:          id,
		CreatedAt:   now,
		UpdatedAt:   now,
		Extracted:   make(fields.Record),
		Progression: ProgressionUndetermined,
	}
}

// Clone returns a deep copy of c.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := *c
	out.Extracted = c.Extracted.Clone()
	if c.History != nil {
		out.History = make([]Turn, len(c.History))
		for i, t := range c.History {
			t.Snapshot = t.Snapshot.Clone()
			out.History[i] = t
		}
	}
	return &out
}

// AppendTurn adds t to the history, dropping the oldest turns beyond limit.
func (c *Context) AppendTurn(t Turn, limit int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	c.History = append(c.History, t)
	if over := len(c.History) - limit; over > 0 {
		trimmed := make([]Turn, limit)
		copy(trimmed, c.History[over:])
		c.History = trimmed
	}
}

// RecordConfidence folds v into the running average.
func (c *Context) RecordConfidence(v float64) {
	c.TotalConfidence += v
	c.ConfidenceCount++
	c.AverageConfidence = c.TotalConfidence / float64(c.ConfidenceCount)
}

// LastActions returns up to n most recent history actions, oldest first.
func (c *Context) LastActions(n int) []Action {
	start := len(c.History) - n
	if start < 0 {
		start = 0
	}
	out := make([]Action, 0, len(c.History)-start)
	for _, t := range c.History[start:] {
		out = append(out, t.Action)
	}
	return out
}

// Summary is the listing view of a context.
type Summary struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Turns      int       `json:"turns"`
	Fields     int       `json:"fields"`
	LastAction Action    `json:"last_action,omitempty"`
	Confirmed  bool      `json:"confirmed"`
}

// Summarize returns the listing view of c.
func (c *Context) Summarize() Summary {
	return Summary{
		ID:         c.ID,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
		Turns:      len(c.History),
		Fields:     len(c.Extracted),
		LastAction: c.LastAction,
		Confirmed:  c.Confirmed,
	}
}
