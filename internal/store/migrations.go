package store

import (
	"fmt"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

// Schema is shared by SQLite and Postgres: BIGINT millisecond timestamps,
// INTEGER booleans, partial indexes.
var migrations = []migration{
	{
		Version:     1,
		Description: "entities: owners of a memory timeline",
		SQL: `
CREATE TABLE entities (
    id                TEXT PRIMARY KEY,
    owner_id          TEXT NOT NULL,
    name              TEXT NOT NULL,
    config            TEXT NOT NULL DEFAULT '{}',
    is_processing     INTEGER NOT NULL DEFAULT 0,
    last_processed_at BIGINT,
    last_day          INTEGER,
    created_at        BIGINT NOT NULL
);

CREATE INDEX idx_entities_owner ON entities(owner_id);
`,
	},
	{
		Version:     2,
		Description: "memory_records: tiered memory windows",
		SQL: `
CREATE TABLE memory_records (
    id          TEXT PRIMARY KEY,
    owner_id    TEXT NOT NULL,
    entity_id   TEXT NOT NULL,
    tier        TEXT NOT NULL CHECK (tier IN ('daily_raw', 'daily_summary', 'level_10', 'level_100', 'level_1000', 'level_archive')),
    start_day   INTEGER NOT NULL,
    end_day     INTEGER NOT NULL,
    content     TEXT NOT NULL,
    processed   INTEGER NOT NULL DEFAULT 0,
    created_at  BIGINT NOT NULL,
    updated_at  BIGINT NOT NULL,

    CHECK (start_day <= end_day),
    FOREIGN KEY (entity_id) REFERENCES entities(id) ON DELETE CASCADE
);

CREATE INDEX idx_records_entity_tier ON memory_records(entity_id, tier, start_day DESC);

-- one promoted record per window; raw days may hold several entries
CREATE UNIQUE INDEX idx_records_window ON memory_records(entity_id, tier, start_day, end_day)
    WHERE tier <> 'daily_raw';
`,
	},
	{
		Version:     3,
		Description: "sessions: exclusive processing runs",
		SQL: `
CREATE TABLE sessions (
    id           TEXT PRIMARY KEY,
    entity_id    TEXT NOT NULL,
    owner_id     TEXT NOT NULL,
    device_id    TEXT NOT NULL DEFAULT 'system',
    session_type TEXT NOT NULL CHECK (session_type IN ('conversation', 'sleep')),
    status       TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed', 'error')),
    is_active    INTEGER NOT NULL DEFAULT 1,
    properties   TEXT NOT NULL DEFAULT '{}',
    started_at   BIGINT NOT NULL,
    updated_at   BIGINT NOT NULL,
    ended_at     BIGINT,

    FOREIGN KEY (entity_id) REFERENCES entities(id) ON DELETE CASCADE
);

CREATE INDEX idx_sessions_entity ON sessions(entity_id, started_at DESC);
CREATE UNIQUE INDEX idx_sessions_one_active ON sessions(entity_id) WHERE is_active = 1;
`,
	},
}

func (db *DB) migrate() error {
	_, err := db.exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  BIGINT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.queryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			db.rebind("INSERT INTO schema_versions (version, description, applied_at) VALUES (?, ?, ?)"),
			m.Version, m.Description, time.Now().UnixMilli(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.queryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
