package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lazypower/tiermem/internal/tier"
)

// Record is one stored memory window.
type Record struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	EntityID  string    `json:"entity_id"`
	Tier      tier.Tier `json:"tier"`
	StartDay  int       `json:"start_day"`
	EndDay    int       `json:"end_day"`
	Content   string    `json:"content"`
	Processed bool      `json:"processed"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// RecordQuery filters records of one entity. Nil filters are ignored;
// StartDay and EndDay are inclusive bounds on start_day and end_day.
// Limit 0 means no limit.
type RecordQuery struct {
	EntityID string
	Tier     *tier.Tier
	StartDay *int
	EndDay   *int
	Limit    int
}

const recordColumns = `id, owner_id, entity_id, tier, start_day, end_day, content, processed, created_at, updated_at`

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r         Record
		tierName  string
		processed int
	)
	if err := row.Scan(&r.ID, &r.OwnerID, &r.EntityID, &tierName, &r.StartDay, &r.EndDay, &r.Content, &processed, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	t, err := tier.Parse(tierName)
	if err != nil {
		return nil, err
	}
	r.Tier = t
	r.Processed = processed != 0
	return &r, nil
}

func validRecord(t tier.Tier, startDay, endDay int) error {
	if !t.Valid() {
		return fmt.Errorf("%w: level %d", tier.ErrInvalidTier, int(t))
	}
	if startDay > endDay {
		return fmt.Errorf("[%d,%d]: %w", startDay, endDay, ErrInvalidRange)
	}
	return nil
}

// AddRecord appends a record. Used for raw entries, which may repeat per day.
func (db *DB) AddRecord(ownerID, entityID string, t tier.Tier, startDay, endDay int, content string) (*Record, error) {
	if err := validRecord(t, startDay, endDay); err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	r := &Record{
		ID:        newID(),
		OwnerID:   ownerID,
		EntityID:  entityID,
		Tier:      t,
		StartDay:  startDay,
		EndDay:    endDay,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := db.exec(`
		INSERT INTO memory_records (id, owner_id, entity_id, tier, start_day, end_day, content, processed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, r.ID, r.OwnerID, r.EntityID, t.String(), startDay, endDay, content, now, now)
	if err != nil {
		return nil, fmt.Errorf("add record: %w", err)
	}
	return r, nil
}

// UpsertRecord writes a promoted record keyed by (entity, tier, start, end).
// An existing window keeps its id and gets the new content.
func (db *DB) UpsertRecord(ownerID, entityID string, t tier.Tier, startDay, endDay int, content string) (*Record, error) {
	if err := validRecord(t, startDay, endDay); err != nil {
		return nil, err
	}
	if t == tier.DailyRaw {
		return nil, fmt.Errorf("upsert %s: raw records are append-only", t)
	}
	now := time.Now().UnixMilli()
	_, err := db.exec(`
		INSERT INTO memory_records (id, owner_id, entity_id, tier, start_day, end_day, content, processed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (entity_id, tier, start_day, end_day) WHERE tier <> 'daily_raw'
		DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
	`, newID(), ownerID, entityID, t.String(), startDay, endDay, content, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert record: %w", err)
	}

	r, err := scanRecord(db.queryRow(`
		SELECT `+recordColumns+` FROM memory_records
		WHERE entity_id = ? AND tier = ? AND start_day = ? AND end_day = ?
	`, entityID, t.String(), startDay, endDay))
	if err != nil {
		return nil, fmt.Errorf("read upserted record: %w", err)
	}
	return r, nil
}

// GetRecord returns a record by id, or ErrNotFound.
func (db *DB) GetRecord(id string) (*Record, error) {
	r, err := scanRecord(db.queryRow(`SELECT `+recordColumns+` FROM memory_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

// QueryRecords returns matching records ordered by start_day descending,
// ties in insertion order.
func (db *DB) QueryRecords(q RecordQuery) ([]Record, error) {
	var (
		where = []string{"entity_id = ?"}
		args  = []any{q.EntityID}
	)
	if q.Tier != nil {
		where = append(where, "tier = ?")
		args = append(args, q.Tier.String())
	}
	if q.StartDay != nil {
		where = append(where, "start_day >= ?")
		args = append(args, *q.StartDay)
	}
	if q.EndDay != nil {
		where = append(where, "end_day <= ?")
		args = append(args, *q.EndDay)
	}

	sqlText := `SELECT ` + recordColumns + ` FROM memory_records WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY start_day DESC, id ASC`
	if q.Limit > 0 {
		sqlText += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := db.query(sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// MarkRecordsProcessed flags records as consumed by a promotion.
func (db *DB) MarkRecordsProcessed(ids []string) error {
	for _, id := range ids {
		if _, err := db.exec(`UPDATE memory_records SET processed = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("mark record %s processed: %w", id, err)
		}
	}
	return nil
}

// CountRecords returns the number of records per tier for an entity.
func (db *DB) CountRecords(entityID string) (map[tier.Tier]int, error) {
	rows, err := db.query(`SELECT tier, COUNT(*) FROM memory_records WHERE entity_id = ? GROUP BY tier`, entityID)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	counts := make(map[tier.Tier]int)
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		t, err := tier.Parse(name)
		if err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

// Int returns a pointer to v, for RecordQuery bounds.
func Int(v int) *int { return &v }

// TierPtr returns a pointer to t, for RecordQuery filters.
func TierPtr(t tier.Tier) *tier.Tier { return &t }
