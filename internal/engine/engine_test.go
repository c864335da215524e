package engine

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lazypower/tiermem/internal/llm"
	"github.com/lazypower/tiermem/internal/store"
	"github.com/lazypower/tiermem/internal/tier"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testEntity(t *testing.T, db *store.DB) *store.Entity {
	t.Helper()
	e, err := db.CreateEntity("", "aoi", nil)
	require.NoError(t, err)
	return e
}

// fixed replies with the same text to every prompt.
func fixed(text string) *llm.MockClient {
	return &llm.MockClient{Response: &llm.Response{Content: text, Provider: "mock"}}
}

func newTestEngine(t *testing.T, st Store, client llm.Client, opts ...Option) *Engine {
	t.Helper()
	return New(st, llm.NewGenerator(client, 0, 0), opts...)
}

// failingStore breaks record writes.
type failingStore struct {
	*store.DB
}

func (f failingStore) UpsertRecord(string, string, tier.Tier, int, int, string) (*store.Record, error) {
	return nil, errors.New("disk full")
}

// endSessionStore fails EndSession for the listed statuses.
type endSessionStore struct {
	*store.DB
	failOn map[string]bool
}

func (s endSessionStore) EndSession(id, status string, props map[string]any) error {
	if s.failOn[status] {
		return errors.New("transient write error")
	}
	return s.DB.EndSession(id, status, props)
}

// racingStore advances the entity's day just before a session is acquired,
// as a concurrent run finishing first would.
type racingStore struct {
	*store.DB
	day int
}

func (s racingStore) BeginSession(entityID, ownerID, sessionType string, props map[string]any) (*store.Session, error) {
	if err := s.DB.MarkProcessed(entityID, s.day, time.Now()); err != nil {
		return nil, err
	}
	return s.DB.BeginSession(entityID, ownerID, sessionType, props)
}

func seed(t *testing.T, db *store.DB, e *store.Entity, tr tier.Tier, start, end int, content string) {
	t.Helper()
	var err error
	if tr == tier.DailyRaw {
		_, err = db.AddRecord(e.OwnerID, e.ID, tr, start, end, content)
	} else {
		_, err = db.UpsertRecord(e.OwnerID, e.ID, tr, start, end, content)
	}
	require.NoError(t, err)
}

func promptsContaining(m *llm.MockClient, sub string) int {
	n := 0
	for _, c := range m.Calls {
		if strings.Contains(c, sub) {
			n++
		}
	}
	return n
}
