package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"medintake/internal/fields"
	"medintake/internal/logging"
)

// Status is the lifecycle state of a booked consultation.
type Status string

const (
	StatusPending   Status = "pendente"
	StatusConfirmed Status = "confirmada"
	StatusCancelled Status = "cancelada"
	StatusCompleted Status = "concluida"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted}

// ParseStatus accepts a status name, case-insensitively.
func ParseStatus(s string) (Status, error) {
	v := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range Statuses {
		if v == st {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid consultation status %q", s)
}

// Consultation is a booked appointment.
type Consultation struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id,omitempty"`
	PatientName string    `json:"patient_name"`
	Phone       string    `json:"phone"`
	Date        string    `json:"consultation_date"`
	Time        string    `json:"consultation_time,omitempty"`
	Type        string    `json:"consultation_type,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	DocumentID  string    `json:"document_id,omitempty"`
	PostalCode  string    `json:"postal_code,omitempty"`
	Status      Status    `json:"status"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FromRecord builds a pending consultation from a completed session record.
func FromRecord(sessionID string, r fields.Record, confidence float64) *Consultation {
	return &Consultation{
		SessionID:   sessionID,
		PatientName: r[fields.Name],
		Phone:       r[fields.Phone],
		Date:        r[fields.ConsultationDate],
		Time:        r[fields.ConsultationTime],
		Type:        r[fields.ConsultationType],
		Notes:       r[fields.Notes],
		DocumentID:  r[fields.DocumentID],
		PostalCode:  r[fields.PostalCode],
		Status:      StatusPending,
		Confidence:  confidence,
	}
}

const consultationColumns = `id, session_id, patient_name, phone, consultation_date, consultation_time,
	consultation_type, notes, document_id, postal_code, status, confidence, created_at, updated_at`

// CreateConsultation inserts c and fills its ID and timestamps. Name, phone
// and date are mandatory.
func (s *Store) CreateConsultation(ctx context.Context, c *Consultation) error {
	if strings.TrimSpace(c.PatientName) == "" || strings.TrimSpace(c.Phone) == "" || strings.TrimSpace(c.Date) == "" {
		return fmt.Errorf("consultation needs patient name, phone and date")
	}
	if c.Status == "" {
		c.Status = StatusPending
	}
	if _, err := ParseStatus(string(c.Status)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO consultations
		(session_id, patient_name, phone, consultation_date, consultation_time, consultation_type,
		 notes, document_id, postal_code, status, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.SessionID, c.PatientName, c.Phone, c.Date, c.Time, c.Type,
		c.Notes, c.DocumentID, c.PostalCode, string(c.Status), c.Confidence, now.UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert consultation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read consultation id: %w", err)
	}
	c.ID = id
	c.CreatedAt, c.UpdatedAt = now, now
	logging.Store("Stored consultation %d for session %s (%s %s)", id, c.SessionID, c.Date, c.Time)
	return nil
}

// GetConsultation returns the consultation with the given ID.
func (s *Store) GetConsultation(ctx context.Context, id int64) (*Consultation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+consultationColumns+` FROM consultations WHERE id = ?`, id)
	c, err := scanConsultation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load consultation %d: %w", id, err)
	}
	return c, nil
}

// ListConsultations pages through consultations, newest first.
func (s *Store) ListConsultations(ctx context.Context, limit, offset int) ([]*Consultation, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.query(ctx, `SELECT `+consultationColumns+` FROM consultations
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
}

// RecentConsultations returns the newest limit consultations.
func (s *Store) RecentConsultations(ctx context.Context, limit int) ([]*Consultation, error) {
	return s.ListConsultations(ctx, limit, 0)
}

// FindBySession returns the consultations booked from one session.
func (s *Store) FindBySession(ctx context.Context, sessionID string) ([]*Consultation, error) {
	return s.query(ctx, `SELECT `+consultationColumns+` FROM consultations
		WHERE session_id = ? ORDER BY id`, sessionID)
}

// FindByStatus returns consultations in status, soonest appointment first.
func (s *Store) FindByStatus(ctx context.Context, status Status) ([]*Consultation, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}
	return s.query(ctx, `SELECT `+consultationColumns+` FROM consultations
		WHERE status = ? ORDER BY consultation_date, consultation_time, id`, string(status))
}

// FindByDateRange returns consultations whose ISO date lies in [from, to].
func (s *Store) FindByDateRange(ctx context.Context, from, to string) ([]*Consultation, error) {
	if _, err := time.Parse("2006-01-02", from); err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", from, err)
	}
	if _, err := time.Parse("2006-01-02", to); err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", to, err)
	}
	if from > to {
		from, to = to, from
	}
	return s.query(ctx, `SELECT `+consultationColumns+` FROM consultations
		WHERE consultation_date BETWEEN ? AND ? ORDER BY consultation_date, consultation_time, id`, from, to)
}

// UpdateStatus moves a consultation to status.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status Status) error {
	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE consultations SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to update consultation %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update consultation %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	logging.Store("Consultation %d is now %s", id, status)
	return nil
}

// DeleteConsultation removes a consultation.
func (s *Store) DeleteConsultation(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM consultations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete consultation %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByStatus returns how many consultations are in each status. Every
// status is present in the result.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Status]int, len(Statuses))
	for _, st := range Statuses {
		out[st] = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM consultations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count consultations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[Status(st)] = n
	}
	return out, rows.Err()
}

func (s *Store) query(ctx context.Context, q string, args ...interface{}) ([]*Consultation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query consultations: %w", err)
	}
	defer rows.Close()

	var out []*Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan consultation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanConsultation(row scanner) (*Consultation, error) {
	var (
		c                Consultation
		status           string
		created, updated int64
	)
	err := row.Scan(&c.ID, &c.SessionID, &c.PatientName, &c.Phone, &c.Date, &c.Time,
		&c.Type, &c.Notes, &c.DocumentID, &c.PostalCode, &status, &c.Confidence, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.Status = Status(status)
	c.CreatedAt = time.Unix(0, created)
	c.UpdatedAt = time.Unix(0, updated)
	return &c, nil
}
