package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entity owns one memory timeline.
type Entity struct {
	ID              string         `json:"id"`
	OwnerID         string         `json:"owner_id"`
	Name            string         `json:"name"`
	Config          map[string]any `json:"config"`
	IsProcessing    bool           `json:"is_processing"`
	LastProcessedAt *int64         `json:"last_processed_at,omitempty"` // unix millis
	LastDay         *int           `json:"last_day,omitempty"`
	CreatedAt       int64          `json:"created_at"`
}

// CreateEntity registers a new entity. An empty ownerID gets a fresh one.
func (db *DB) CreateEntity(ownerID, name string, cfg map[string]any) (*Entity, error) {
	if ownerID == "" {
		ownerID = uuid.NewString()
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode entity config: %w", err)
	}

	e := &Entity{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Config:    cfg,
		CreatedAt: time.Now().UnixMilli(),
	}
	_, err = db.exec(`
		INSERT INTO entities (id, owner_id, name, config, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.OwnerID, e.Name, string(raw), e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert entity: %w", err)
	}
	return e, nil
}

const entityColumns = `id, owner_id, name, config, is_processing, last_processed_at, last_day, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var (
		e          Entity
		cfg        string
		processing int
	)
	if err := row.Scan(&e.ID, &e.OwnerID, &e.Name, &cfg, &processing, &e.LastProcessedAt, &e.LastDay, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.IsProcessing = processing != 0
	e.Config = map[string]any{}
	if cfg != "" {
		if err := json.Unmarshal([]byte(cfg), &e.Config); err != nil {
			return nil, fmt.Errorf("decode entity config: %w", err)
		}
	}
	return &e, nil
}

// GetEntity returns an entity by id, or ErrNotFound.
func (db *DB) GetEntity(id string) (*Entity, error) {
	e, err := scanEntity(db.queryRow(`SELECT `+entityColumns+` FROM entities WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	return e, nil
}

// ListEntities returns all entities, newest first.
func (db *DB) ListEntities() ([]Entity, error) {
	rows, err := db.query(`SELECT ` + entityColumns + ` FROM entities ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// SetProcessing flips the entity's processing flag.
func (db *DB) SetProcessing(id string, processing bool) error {
	result, err := db.exec(`UPDATE entities SET is_processing = ? WHERE id = ?`, boolInt(processing), id)
	if err != nil {
		return fmt.Errorf("set processing: %w", err)
	}
	return requireRow(result, "entity "+id)
}

// ResetProcessing clears every processing flag left behind by a process that
// died mid-cycle. It returns how many entities were affected.
func (db *DB) ResetProcessing() (int, error) {
	result, err := db.exec(`UPDATE entities SET is_processing = 0 WHERE is_processing = 1`)
	if err != nil {
		return 0, fmt.Errorf("reset processing: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// MarkProcessed stamps the last-processed time and advances the day counter.
// The counter never moves backwards.
func (db *DB) MarkProcessed(id string, day int, at time.Time) error {
	result, err := db.exec(`
		UPDATE entities
		SET last_processed_at = ?,
		    last_day = CASE WHEN last_day IS NULL OR last_day < ? THEN ? ELSE last_day END
		WHERE id = ?
	`, at.UnixMilli(), day, day, id)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return requireRow(result, "entity "+id)
}

func requireRow(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
