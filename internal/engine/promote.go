package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lazypower/tiermem/internal/llm"
	"github.com/lazypower/tiermem/internal/store"
	"github.com/lazypower/tiermem/internal/tier"
)

// rollup is one hierarchical step: every period days, summarize the source
// tier over the trailing period into target.
type rollup struct {
	target tier.Tier
	period int
}

var rollups = []rollup{
	{tier.Level10, 10},
	{tier.Level100, 100},
	{tier.Level1000, 1000},
}

// Promote materializes every tier due on day and returns the records written,
// in step order: daily summary, level_10, level_100, level_1000, archive.
// Steps whose inputs are missing or whose generation comes back empty are
// skipped. Store failures abort with ErrPersistence.
func (e *Engine) Promote(ctx context.Context, entityID string, day int) ([]store.Record, error) {
	if day < 0 {
		return nil, fmt.Errorf("promote day %d: %w", day, ErrInvalidDay)
	}
	ent, err := e.getEntity(entityID)
	if err != nil {
		return nil, err
	}
	log := e.Log.With(zap.String("entity_id", entityID), zap.Int("day", day))

	var created []store.Record
	keep := func(r *store.Record, err error) error {
		if err != nil {
			return err
		}
		if r != nil {
			created = append(created, *r)
		}
		return nil
	}

	if err := keep(e.promoteDaily(ctx, log, ent, day)); err != nil {
		return nil, err
	}
	for _, r := range rollups {
		if day == 0 || day%r.period != 0 {
			continue
		}
		start := max(1, day-r.period+1)
		if err := keep(e.promoteWindow(ctx, log, ent, r.target, start, day)); err != nil {
			return nil, err
		}
	}
	if day > 1000 && day%1000 == 0 {
		if err := keep(e.promoteArchive(ctx, log, ent)); err != nil {
			return nil, err
		}
	}

	if err := e.Store.MarkProcessed(ent.ID, day, e.now()); err != nil {
		return nil, persistErr("mark processed", err)
	}
	return created, nil
}

func (e *Engine) getEntity(id string) (*store.Entity, error) {
	ent, err := e.Store.GetEntity(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, persistErr("get entity", err)
	}
	return ent, nil
}

func (e *Engine) promoteDaily(ctx context.Context, log *zap.Logger, ent *store.Entity, day int) (*store.Record, error) {
	raws, err := e.Store.QueryRecords(store.RecordQuery{
		EntityID: ent.ID,
		Tier:     store.TierPtr(tier.DailyRaw),
		StartDay: store.Int(day),
		EndDay:   store.Int(day),
	})
	if err != nil {
		return nil, persistErr("query daily_raw", err)
	}
	if len(raws) == 0 {
		log.Debug("no raw records, skipping daily summary")
		return nil, nil
	}

	parts := make([]string, len(raws))
	for i, r := range raws {
		parts[i] = r.Content
	}
	prompt := llm.DailySummaryPrompt(strings.Join(parts, "\n\n"))
	rec, err := e.generateAndSave(ctx, log, ent, tier.DailySummary, day, day, prompt)
	return e.consume(raws, rec, err)
}

// promoteWindow summarizes the tier below target over [start, end].
func (e *Engine) promoteWindow(ctx context.Context, log *zap.Logger, ent *store.Entity, target tier.Tier, start, end int) (*store.Record, error) {
	src, err := target.Below()
	if err != nil {
		return nil, err
	}
	inputs, err := e.Store.QueryRecords(store.RecordQuery{
		EntityID: ent.ID,
		Tier:     store.TierPtr(src),
		StartDay: store.Int(start),
		EndDay:   store.Int(end),
	})
	if err != nil {
		return nil, persistErr("query "+src.String(), err)
	}
	if len(inputs) == 0 {
		log.Debug("no inputs, skipping", zap.Stringer("tier", target))
		return nil, nil
	}
	prompt := llm.HierarchicalSummaryPrompt(joinDayRanges(inputs))
	rec, err := e.generateAndSave(ctx, log, ent, target, start, end, prompt)
	return e.consume(inputs, rec, err)
}

// promoteArchive compacts level_1000 records into one archive record spanning
// all of them. In watermark mode only records starting after the newest
// archive are considered.
func (e *Engine) promoteArchive(ctx context.Context, log *zap.Logger, ent *store.Entity) (*store.Record, error) {
	q := store.RecordQuery{EntityID: ent.ID, Tier: store.TierPtr(tier.Level1000)}
	if e.ArchiveMode != ArchiveCumulative {
		mark, err := e.archiveWatermark(ent.ID)
		if err != nil {
			return nil, err
		}
		q.StartDay = store.Int(mark + 1)
	}

	inputs, err := e.Store.QueryRecords(q)
	if err != nil {
		return nil, persistErr("query level_1000", err)
	}
	if len(inputs) < 2 {
		log.Debug("fewer than two level_1000 records, skipping archive", zap.Int("inputs", len(inputs)))
		return nil, nil
	}

	start, end := inputs[0].StartDay, inputs[0].EndDay
	for _, r := range inputs[1:] {
		start = min(start, r.StartDay)
		end = max(end, r.EndDay)
	}
	prompt := llm.HierarchicalSummaryPrompt(joinDayRanges(inputs))
	rec, err := e.generateAndSave(ctx, log, ent, tier.Archive, start, end, prompt)
	return e.consume(inputs, rec, err)
}

// consume marks inputs processed once out was written from them.
func (e *Engine) consume(inputs []store.Record, out *store.Record, err error) (*store.Record, error) {
	if err != nil || out == nil {
		return out, err
	}
	ids := make([]string, len(inputs))
	for i, r := range inputs {
		ids[i] = r.ID
	}
	if err := e.Store.MarkRecordsProcessed(ids); err != nil {
		return nil, persistErr("mark inputs processed", err)
	}
	return out, nil
}

// archiveWatermark returns the largest end_day of any archive record, or 0.
func (e *Engine) archiveWatermark(entityID string) (int, error) {
	archives, err := e.Store.QueryRecords(store.RecordQuery{EntityID: entityID, Tier: store.TierPtr(tier.Archive)})
	if err != nil {
		return 0, persistErr("query level_archive", err)
	}
	mark := 0
	for _, a := range archives {
		mark = max(mark, a.EndDay)
	}
	return mark, nil
}

func (e *Engine) generateAndSave(ctx context.Context, log *zap.Logger, ent *store.Entity, t tier.Tier, start, end int, prompt string) (*store.Record, error) {
	log = log.With(zap.Stringer("tier", t), zap.Int("start_day", start), zap.Int("end_day", end))

	res := e.Gen.Generate(ctx, prompt)
	switch res.Status {
	case llm.StatusEmpty:
		log.Info("empty generation, skipping step")
		return nil, nil
	case llm.StatusFailed:
		if e.Policy == PolicyFail {
			return nil, fmt.Errorf("%s [%d,%d]: %w: %w", t, start, end, ErrGeneration, res.Err)
		}
		log.Warn("generation failed, skipping step", zap.Int("attempts", res.Attempts), zap.Error(res.Err))
		return nil, nil
	}

	rec, err := e.Store.UpsertRecord(ent.OwnerID, ent.ID, t, start, end, res.Text)
	if err != nil {
		log.Error("persist promoted record", zap.Error(err))
		return nil, persistErr(fmt.Sprintf("save %s [%d,%d]", t, start, end), err)
	}
	log.Info("promoted", zap.String("record_id", rec.ID))
	return rec, nil
}

// joinDayRanges renders records as "Day <start>-<end>: <content>" blocks.
func joinDayRanges(recs []store.Record) string {
	parts := make([]string, len(recs))
	for i, r := range recs {
		parts[i] = fmt.Sprintf("Day %d-%d: %s", r.StartDay, r.EndDay, r.Content)
	}
	return strings.Join(parts, "\n\n")
}
