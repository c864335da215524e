package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lazypower/tiermem/internal/llm"
	"github.com/lazypower/tiermem/internal/store"
	"github.com/lazypower/tiermem/internal/tier"
	"github.com/lazypower/tiermem/internal/transcript"
)

// ErrEmptyConversation is returned when a transcript has nothing to remember.
var ErrEmptyConversation = errors.New("conversation is empty")

// AddRawRecord stores content as a daily_raw record for day.
func (e *Engine) AddRawRecord(entityID string, day int, content string) (*store.Record, error) {
	if day < 0 {
		return nil, fmt.Errorf("record day %d: %w", day, ErrInvalidDay)
	}
	ent, err := e.getEntity(entityID)
	if err != nil {
		return nil, err
	}
	rec, err := e.Store.AddRecord(ent.OwnerID, ent.ID, tier.DailyRaw, day, day, content)
	if err != nil {
		return nil, persistErr("add raw record", err)
	}
	return rec, nil
}

// IngestConversation condenses a conversation and stores the generated diary
// entry as a daily_raw record. It runs inside a conversation session, so it
// conflicts with a sleep cycle in progress. An empty generation stores
// nothing and returns a nil record.
func (e *Engine) IngestConversation(ctx context.Context, entityID string, day int, conversation string) (*store.Record, error) {
	if day < 0 {
		return nil, fmt.Errorf("ingest day %d: %w", day, ErrInvalidDay)
	}
	ent, err := e.getEntity(entityID)
	if err != nil {
		return nil, err
	}

	turns, err := transcript.Parse(conversation)
	if err != nil {
		return nil, fmt.Errorf("parse conversation: %w", err)
	}
	condensed := transcript.Condense(turns)
	if condensed == "" {
		return nil, ErrEmptyConversation
	}

	sess, err := e.Store.BeginSession(ent.ID, ent.OwnerID, store.SessionConversation, map[string]any{"day": day, "turns": len(turns)})
	if err != nil {
		if errors.Is(err, store.ErrSessionConflict) {
			return nil, err
		}
		return nil, persistErr("begin session", err)
	}
	log := e.Log.With(zap.String("entity_id", ent.ID), zap.Int("day", day), zap.String("session_id", sess.ID))

	rec, err := e.convert(ctx, ent, day, condensed)
	if err != nil {
		e.closeSession(sess.ID, ent.ID, store.StatusError, map[string]any{"error": err.Error()}, log)
		return nil, err
	}

	props := map[string]any{"created": rec != nil}
	if rec != nil {
		props["record_id"] = rec.ID
	}
	if err := e.closeSession(sess.ID, ent.ID, store.StatusCompleted, props, log); err != nil {
		return rec, err
	}
	return rec, nil
}

func (e *Engine) convert(ctx context.Context, ent *store.Entity, day int, condensed string) (*store.Record, error) {
	res := e.Gen.Generate(ctx, llm.DailyRawPrompt(condensed))
	switch res.Status {
	case llm.StatusEmpty:
		e.Log.Info("empty generation, conversation not stored", zap.String("entity_id", ent.ID), zap.Int("day", day))
		return nil, nil
	case llm.StatusFailed:
		return nil, fmt.Errorf("convert conversation: %w: %w", ErrGeneration, res.Err)
	}

	rec, err := e.Store.AddRecord(ent.OwnerID, ent.ID, tier.DailyRaw, day, day, res.Text)
	if err != nil {
		return nil, persistErr("add raw record", err)
	}
	return rec, nil
}
