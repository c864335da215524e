package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/tiermem/internal/store"
)

// RunResult reports the outcome of a sleep cycle. Failures are carried in
// Error and Err rather than returned.
type RunResult struct {
	Success      bool           `json:"success"`
	EntityID     string         `json:"entity_id"`
	SessionID    string         `json:"session_id,omitempty"`
	CurrentDay   int            `json:"current_day"`
	Count        int            `json:"count"`
	TiersTouched []string       `json:"tiers_touched"`
	Records      []store.Record `json:"records"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
	Error        string         `json:"error,omitempty"`
	Err          error          `json:"-"`
}

// RunSleepCycle promotes one day inside an exclusive sleep session. The
// entity's processing flag is set for the duration and always cleared.
func (e *Engine) RunSleepCycle(ctx context.Context, entityID string, currentDay int) RunResult {
	res := RunResult{EntityID: entityID, CurrentDay: currentDay, TiersTouched: []string{}, Records: []store.Record{}}
	log := e.Log.With(zap.String("entity_id", entityID), zap.Int("day", currentDay))
	fail := func(err error) RunResult {
		res.Err = err
		res.Error = err.Error()
		log.Warn("sleep cycle failed", zap.Error(err))
		return res
	}

	if currentDay < 0 {
		return fail(fmt.Errorf("sleep day %d: %w", currentDay, ErrInvalidDay))
	}
	ent, err := e.getEntity(entityID)
	if err != nil {
		return fail(err)
	}
	if err := checkDay(ent, currentDay); err != nil {
		return fail(err)
	}

	sess, err := e.Store.BeginSession(ent.ID, ent.OwnerID, store.SessionSleep, map[string]any{"current_day": currentDay})
	if err != nil {
		if errors.Is(err, store.ErrSessionConflict) {
			return fail(err)
		}
		return fail(persistErr("begin session", err))
	}
	res.SessionID = sess.ID
	log = log.With(zap.String("session_id", sess.ID))

	// Another run may have advanced the day between the check above and
	// acquiring the session.
	if ent, err = e.getEntity(entityID); err != nil {
		e.closeSession(sess.ID, entityID, store.StatusError, map[string]any{"error": err.Error()}, log)
		return fail(err)
	}
	if err := checkDay(ent, currentDay); err != nil {
		e.closeSession(sess.ID, ent.ID, store.StatusError, map[string]any{"error": err.Error()}, log)
		return fail(err)
	}

	defer func() {
		if err := e.Store.SetProcessing(ent.ID, false); err != nil {
			log.Error("clear processing flag", zap.Error(err))
		}
	}()

	records, err := e.promoteInSession(ctx, ent.ID, currentDay)
	if err != nil {
		e.closeSession(sess.ID, ent.ID, store.StatusError, map[string]any{"error": err.Error()}, log)
		return fail(err)
	}

	done := e.now()
	tiers := tiersTouched(records)
	res.Count = len(records)
	res.TiersTouched = tiers
	res.Records = records
	res.ProcessedAt = &done
	err = e.closeSession(sess.ID, ent.ID, store.StatusCompleted, map[string]any{
		"count":                   len(records),
		"tiers_touched":           tiers,
		"processing_completed_at": done.UTC().Format(time.RFC3339),
	}, log)
	if err != nil {
		// The records are stored and the day advanced; only the session
		// bookkeeping failed.
		return fail(err)
	}

	res.Success = true
	log.Info("sleep cycle complete", zap.Int("count", res.Count), zap.Strings("tiers", tiers))
	return res
}

// checkDay rejects a day before the entity's last processed day.
func checkDay(ent *store.Entity, day int) error {
	if ent.LastDay != nil && day < *ent.LastDay {
		return fmt.Errorf("day %d, last processed %d: %w", day, *ent.LastDay, ErrStaleDay)
	}
	return nil
}

// closeSession ends a session with status. If that write fails, the session
// is closed as an error and, failing that, every active session of the entity
// is ended, so a failed close never leaves the entity locked. The error from
// the first attempt is returned.
func (e *Engine) closeSession(sessionID, entityID, status string, props map[string]any, log *zap.Logger) error {
	err := e.Store.EndSession(sessionID, status, props)
	if err == nil {
		return nil
	}
	err = persistErr("end session", err)
	log.Error("end session", zap.String("status", status), zap.Error(err))

	if status != store.StatusError {
		fallbackErr := e.Store.EndSession(sessionID, store.StatusError, map[string]any{"error": err.Error()})
		if fallbackErr == nil {
			return err
		}
		log.Error("end session as error", zap.Error(fallbackErr))
	}
	if _, endErr := e.Store.EndActiveSessions(entityID); endErr != nil {
		log.Error("release active sessions", zap.Error(endErr))
	}
	return err
}

// promoteInSession sets the processing flag and runs Promote, converting a
// panic into an error so the session is still closed.
func (e *Engine) promoteInSession(ctx context.Context, entityID string, day int) (records []store.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("promotion panic: %v", r)
		}
	}()
	if err := e.Store.SetProcessing(entityID, true); err != nil {
		return nil, persistErr("set processing", err)
	}
	return e.Promote(ctx, entityID, day)
}

// EndSleepSession force-closes every active session of the entity and clears
// its processing flag. It returns the number of sessions closed.
func (e *Engine) EndSleepSession(entityID string) (int, error) {
	ent, err := e.getEntity(entityID)
	if err != nil {
		return 0, err
	}
	n, err := e.Store.EndActiveSessions(ent.ID)
	if err != nil {
		return 0, persistErr("end active sessions", err)
	}
	if err := e.Store.SetProcessing(ent.ID, false); err != nil {
		return n, persistErr("clear processing flag", err)
	}
	if n > 0 {
		e.Log.Info("released sessions", zap.String("entity_id", ent.ID), zap.Int("count", n))
	}
	return n, nil
}

func tiersTouched(records []store.Record) []string {
	seen := map[string]bool{}
	tiers := []string{}
	for _, r := range records {
		name := r.Tier.String()
		if !seen[name] {
			seen[name] = true
			tiers = append(tiers, name)
		}
	}
	return tiers
}
