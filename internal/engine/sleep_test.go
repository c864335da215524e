package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/tiermem/internal/config"
	"github.com/lazypower/tiermem/internal/llm"
	"github.com/lazypower/tiermem/internal/store"
	"github.com/lazypower/tiermem/internal/tier"
)

func TestRunSleepCycle(t *testing.T) {
	db := testDB(t)
	e := testEntity(t, db)
	seed(t, db, e, tier.DailyRaw, 10, 10, "picnic")

	var sawProcessing bool
	mock := &llm.MockClient{Func: func(string) (*llm.Response, error) {
		got, err := db.GetEntity(e.ID)
		if err == nil && got.IsProcessing {
			sawProcessing = true
		}
		return &llm.Response{Content: "summary"}, nil
	}}

	res := newTestEngine(t, db, mock).RunSleepCycle(context.Background(), e.ID, 10)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, []string{"daily_summary", "level_10"}, res.TiersTouched)
	assert.NotNil(t, res.ProcessedAt)
	assert.True(t, sawProcessing, "processing flag should be set while promoting")

	got, err := db.GetEntity(e.ID)
	require.NoError(t, err)
	assert.False(t, got.IsProcessing)

	sess, err := db.GetSession(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, sess.Status)
	assert.False(t, sess.Active)
	assert.Equal(t, float64(2), sess.Properties["count"])
	assert.Equal(t, float64(10), sess.Properties["current_day"])
	assert.Contains(t, sess.Properties, "processing_completed_at")
}

func TestRunSleepCycleSessionConflict(t *testing.T) {
	db := testDB(t)
	e := testEntity(t, db)
	seed(t, db, e, tier.DailyRaw, 10, 10, "x")
	_, err := db.BeginSession(e.ID, e.OwnerID, store.SessionSleep, nil)
	require.NoError(t, err)
	mock := fixed("summary")

	res := newTestEngine(t, db, mock).RunSleepCycle(context.Background(), e.ID, 10)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, store.ErrSessionConflict)
	assert.NotEmpty(t, res.Error)
	assert.Zero(t, mock.CallCount(), "promotion must not run")
}

func TestRunSleepCycleStaleDay(t *testing.T) {
	db := testDB(t)
	e := testEntity(t, db)
	eng := newTestEngine(t, db, fixed("summary"))

	require.True(t, eng.RunSleepCycle(context.Background(), e.ID, 10).Success)

	res := eng.RunSleepCycle(context.Background(), e.ID, 9)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrStaleDay)

	// Replaying the same day is allowed.
	assert.True(t, eng.RunSleepCycle(context.Background(), e.ID, 10).Success)
	assert.True(t, eng.RunSleepCycle(context.Background(), e.ID, 11).Success)
}

func TestRunSleepCyclePersistenceFailure(t *testing.T) {
	db := testDB(t)
	e := testEntity(t, db)
	seed(t, db, e, tier.DailyRaw, 10, 10, "x")

	res := newTestEngine(t, failingStore{db}, fixed("summary")).RunSleepCycle(context.Background(), e.ID, 10)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrPersistence)

	sess, err := db.GetSession(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, sess.Status)
	assert.Contains(t, sess.Properties["error"], "disk full")

	got, err := db.GetEntity(e.ID)
	require.NoError(t, err)
	assert.False(t, got.IsProcessing, "flag must be cleared on failure")

	// The failed session does not block the next run.
	assert.True(t, newTestEngine(t, db, fixed("summary")).RunSleepCycle(context.Background(), e.ID, 10).Success)
}

func TestRunSleepCycleCompletedCloseFails(t *testing.T) {
	db := testDB(t)
	e := testEntity(t, db)
	seed(t, db, e, tier.DailyRaw, 10, 10, "x")
	st := endSessionStore{DB: db, failOn: map[string]bool{store.StatusCompleted: true}}

	res := newTestEngine(t, st, fixed("summary")).RunSleepCycle(context.Background(), e.ID, 10)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrPersistence)
	assert.Equal(t, 2, res.Count, "stored records are still reported")
	assert.Len(t, res.Records, 2)

	sess, err := db.GetSession(res.SessionID)
	require.NoError(t, err)
	assert.False(t, sess.Active)
	assert.Equal(t, store.StatusError, sess.Status)

	got, err := db.GetEntity(e.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastDay)
	assert.Equal(t, 10, *got.LastDay)
	assert.False(t, got.IsProcessing)

	// The entity is not locked out of the next cycle.
	again := newTestEngine(t, st, fixed("summary")).RunSleepCycle(context.Background(), e.ID, 10)
	assert.NotErrorIs(t, again.Err, store.ErrSessionConflict)
	assert.True(t, newTestEngine(t, db, fixed("summary")).RunSleepCycle(context.Background(), e.ID, 11).Success)
}

func TestRunSleepCycleCloseFallsBackToReleasingSessions(t *testing.T) {
	db := testDB(t)
	e := testEntity(t, db)
	st := endSessionStore{DB: db, failOn: map[string]bool{store.StatusCompleted: true, store.StatusError: true}}

	res := newTestEngine(t, st, fixed("summary")).RunSleepCycle(context.Background(), e.ID, 1)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrPersistence)

	active, err := db.ActiveSession(e.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestRunSleepCycleDayAdvancedWhileAcquiring(t *testing.T) {
	db := testDB(t)
	e := testEntity(t, db)
	seed(t, db, e, tier.DailyRaw, 10, 10, "x")
	mock := fixed("summary")

	res := newTestEngine(t, racingStore{DB: db, day: 20}, mock).RunSleepCycle(context.Background(), e.ID, 10)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrStaleDay)
	assert.Zero(t, mock.CallCount(), "promotion must not run")

	sess, err := db.GetSession(res.SessionID)
	require.NoError(t, err)
	assert.False(t, sess.Active)
	assert.Equal(t, store.StatusError, sess.Status)
}

func TestRunSleepCycleWithoutGenerator(t *testing.T) {
	db := testDB(t)
	e := testEntity(t, db)
	eng := newTestEngine(t, db, fixed("summary"))
	eng.Gen = nil

	seed(t, db, e, tier.DailyRaw, 1, 1, "x")
	// Under the skip policy a missing backend only skips steps.
	res := eng.RunSleepCycle(context.Background(), e.ID, 1)
	assert.True(t, res.Success)
	assert.Zero(t, res.Count)
}

func TestFromConfigWithoutLogger(t *testing.T) {
	db := testDB(t)
	e := testEntity(t, db)
	seed(t, db, e, tier.DailyRaw, 1, 1, "x")

	eng := FromConfig(db, fixed("summary"), config.Default().Promotion, nil)
	require.NotNil(t, eng.Log)
	require.NotNil(t, eng.Gen.Logger)
	assert.Equal(t, PolicySkip, eng.Policy)
	assert.Equal(t, ArchiveWatermark, eng.ArchiveMode)

	res := eng.RunSleepCycle(context.Background(), e.ID, 1)
	assert.True(t, res.Success, res.Error)
	assert.Equal(t, 1, res.Count)
}

func TestRunSleepCycleUnknownEntity(t *testing.T) {
	db := testDB(t)
	res := newTestEngine(t, db, fixed("x")).RunSleepCycle(context.Background(), "missing", 1)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, store.ErrNotFound)
	assert.Empty(t, res.SessionID)
}

func TestEndSleepSession(t *testing.T) {
	db := testDB(t)
	e := testEntity(t, db)
	_, err := db.BeginSession(e.ID, e.OwnerID, store.SessionSleep, nil)
	require.NoError(t, err)
	require.NoError(t, db.SetProcessing(e.ID, true))

	eng := newTestEngine(t, db, fixed("x"))
	n, err := eng.EndSleepSession(e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := db.GetEntity(e.ID)
	require.NoError(t, err)
	assert.False(t, got.IsProcessing)
	active, err := db.ActiveSession(e.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	_, err = eng.EndSleepSession("missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
