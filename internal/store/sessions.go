package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	SessionSleep        = "sleep"
	SessionConversation = "conversation"

	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Session is one exclusive processing run for an entity.
type Session struct {
	ID         string         `json:"id"`
	EntityID   string         `json:"entity_id"`
	OwnerID    string         `json:"owner_id"`
	DeviceID   string         `json:"device_id"`
	Type       string         `json:"type"`
	Status     string         `json:"status"`
	Active     bool           `json:"active"`
	Properties map[string]any `json:"properties"`
	StartedAt  int64          `json:"started_at"`
	UpdatedAt  int64          `json:"updated_at"`
	EndedAt    *int64         `json:"ended_at,omitempty"`
}

const sessionColumns = `id, entity_id, owner_id, device_id, session_type, status, is_active, properties, started_at, updated_at, ended_at`

func scanSession(row rowScanner) (*Session, error) {
	var (
		s      Session
		active int
		props  string
	)
	if err := row.Scan(&s.ID, &s.EntityID, &s.OwnerID, &s.DeviceID, &s.Type, &s.Status, &active, &props, &s.StartedAt, &s.UpdatedAt, &s.EndedAt); err != nil {
		return nil, err
	}
	s.Active = active != 0
	s.Properties = map[string]any{}
	if props != "" {
		if err := json.Unmarshal([]byte(props), &s.Properties); err != nil {
			return nil, fmt.Errorf("decode session properties: %w", err)
		}
	}
	return &s, nil
}

// BeginSession opens an exclusive session. It fails with ErrSessionConflict
// when the entity already has an active one.
func (db *DB) BeginSession(entityID, ownerID, sessionType string, props map[string]any) (*Session, error) {
	if sessionType != SessionSleep && sessionType != SessionConversation {
		return nil, fmt.Errorf("invalid session type %q", sessionType)
	}
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("encode session properties: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin session tx: %w", err)
	}
	defer tx.Rollback()

	var active int
	if err := tx.QueryRow(db.rebind(`SELECT COUNT(*) FROM sessions WHERE entity_id = ? AND is_active = 1`), entityID).Scan(&active); err != nil {
		return nil, fmt.Errorf("check active session: %w", err)
	}
	if active > 0 {
		return nil, fmt.Errorf("entity %s: %w", entityID, ErrSessionConflict)
	}

	now := time.Now().UnixMilli()
	s := &Session{
		ID:         newID(),
		EntityID:   entityID,
		OwnerID:    ownerID,
		DeviceID:   "system",
		Type:       sessionType,
		Status:     StatusActive,
		Active:     true,
		Properties: props,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	_, err = tx.Exec(db.rebind(`
		INSERT INTO sessions (id, entity_id, owner_id, device_id, session_type, status, is_active, properties, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'active', 1, ?, ?, ?)
	`), s.ID, entityID, ownerID, s.DeviceID, sessionType, string(raw), now, now)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("entity %s: %w", entityID, ErrSessionConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("entity %s: %w", entityID, ErrSessionConflict)
		}
		return nil, fmt.Errorf("commit session: %w", err)
	}
	return s, nil
}

// GetSession returns a session by id, or ErrNotFound.
func (db *DB) GetSession(id string) (*Session, error) {
	s, err := scanSession(db.queryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// ActiveSession returns the entity's active session, or nil if there is none.
func (db *DB) ActiveSession(entityID string) (*Session, error) {
	s, err := scanSession(db.queryRow(`SELECT `+sessionColumns+` FROM sessions WHERE entity_id = ? AND is_active = 1`, entityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return s, nil
}

// EndSession deactivates a session with the given status. props are merged
// into the stored properties.
func (db *DB) EndSession(id, status string, props map[string]any) error {
	if status != StatusCompleted && status != StatusError {
		return fmt.Errorf("invalid end status %q", status)
	}

	s, err := db.GetSession(id)
	if err != nil {
		return err
	}
	merged := s.Properties
	for k, v := range props {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode session properties: %w", err)
	}

	now := time.Now().UnixMilli()
	_, err = db.exec(`
		UPDATE sessions
		SET is_active = 0, status = ?, properties = ?, updated_at = ?, ended_at = COALESCE(ended_at, ?)
		WHERE id = ?
	`, status, string(raw), now, now, id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// EndActiveSessions completes every active session of an entity and returns
// how many were closed.
func (db *DB) EndActiveSessions(entityID string) (int, error) {
	now := time.Now().UnixMilli()
	result, err := db.exec(`
		UPDATE sessions
		SET is_active = 0, status = 'completed', updated_at = ?, ended_at = COALESCE(ended_at, ?)
		WHERE entity_id = ? AND is_active = 1
	`, now, now, entityID)
	if err != nil {
		return 0, fmt.Errorf("end active sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// ListSessions returns an entity's sessions, most recent first.
func (db *DB) ListSessions(entityID string, limit int) ([]Session, error) {
	rows, err := db.query(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE entity_id = ? ORDER BY started_at DESC, id DESC LIMIT ?
	`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}
