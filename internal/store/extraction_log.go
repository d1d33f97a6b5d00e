package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"medintake/internal/logging"
)

// ExtractionLog records one processed turn for auditing extraction quality.
type ExtractionLog struct {
	ID               int64             `json:"id"`
	SessionID        string            `json:"session_id"`
	Message          string            `json:"message"`
	Source           string            `json:"source"`
	Success          bool              `json:"success"`
	Extracted        map[string]string `json:"extracted"`
	Confidence       float64           `json:"confidence"`
	Action           string            `json:"action"`
	ValidationErrors int               `json:"validation_errors"`
	Error            string            `json:"error,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// LogExtraction appends l to the audit log.
func (s *Store) LogExtraction(ctx context.Context, l *ExtractionLog) error {
	extracted := l.Extracted
	if extracted == nil {
		extracted = map[string]string{}
	}
	payload, err := json.Marshal(extracted)
	if err != nil {
		return fmt.Errorf("failed to encode extraction: %w", err)
	}
	success := 0
	if l.Success {
		success = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO extraction_logs
		(session_id, message, source, success, extracted, confidence, action, validation_errors, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.SessionID, l.Message, l.Source, success, string(payload), l.Confidence, l.Action,
		l.ValidationErrors, l.Error, now.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert extraction log: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		l.ID = id
	}
	l.CreatedAt = now
	logging.StoreDebug("Logged extraction for session %s: source=%s success=%v fields=%d",
		l.SessionID, l.Source, l.Success, len(extracted))
	return nil
}

// ExtractionLogs returns the log of one session in turn order. A
// non-positive limit returns every entry.
func (s *Store) ExtractionLogs(ctx context.Context, sessionID string, limit int) ([]*ExtractionLog, error) {
	if limit <= 0 {
		limit = -1
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, message, source, success, extracted,
		confidence, action, validation_errors, error, created_at
		FROM extraction_logs WHERE session_id = ? ORDER BY id LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query extraction logs: %w", err)
	}
	defer rows.Close()

	var out []*ExtractionLog
	for rows.Next() {
		var (
			l       ExtractionLog
			success int
			payload string
			created int64
		)
		if err := rows.Scan(&l.ID, &l.SessionID, &l.Message, &l.Source, &success, &payload,
			&l.Confidence, &l.Action, &l.ValidationErrors, &l.Error, &created); err != nil {
			return nil, fmt.Errorf("failed to scan extraction log: %w", err)
		}
		l.Success = success == 1
		if err := json.Unmarshal([]byte(payload), &l.Extracted); err != nil {
			return nil, fmt.Errorf("failed to decode extraction log %d: %w", l.ID, err)
		}
		l.CreatedAt = time.Unix(0, created)
		out = append(out, &l)
	}
	return out, rows.Err()
}

// ExtractionSummary summarizes the audit log.
type ExtractionSummary struct {
	Total         int            `json:"total"`
	Successful    int            `json:"successful"`
	AvgConfidence float64        `json:"avg_confidence"`
	BySource      map[string]int `json:"by_source"`
}

// ExtractionStats aggregates the whole audit log.
func (s *Store) ExtractionStats(ctx context.Context) (ExtractionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := ExtractionSummary{BySource: make(map[string]int)}
	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*), SUM(success), AVG(confidence)
		FROM extraction_logs GROUP BY source`)
	if err != nil {
		return st, fmt.Errorf("failed to aggregate extraction logs: %w", err)
	}
	defer rows.Close()

	var weighted float64
	for rows.Next() {
		var (
			source string
			n, ok  int
			avg    float64
		)
		if err := rows.Scan(&source, &n, &ok, &avg); err != nil {
			return st, err
		}
		st.BySource[source] = n
		st.Total += n
		st.Successful += ok
		weighted += avg * float64(n)
	}
	if st.Total > 0 {
		st.AvgConfidence = weighted / float64(st.Total)
	}
	return st, rows.Err()
}
