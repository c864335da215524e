package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/lazypower/tiermem/internal/store"
	"github.com/lazypower/tiermem/internal/tier"
)

// Window is one inclusive day range to fetch from a tier. Archive windows
// have no lower bound.
type Window struct {
	Tier      tier.Tier `json:"tier"`
	Start     int       `json:"start_day"`
	End       int       `json:"end_day"`
	Unbounded bool      `json:"unbounded,omitempty"`
}

func (w Window) query(entityID string) store.RecordQuery {
	q := store.RecordQuery{EntityID: entityID, Tier: store.TierPtr(w.Tier), EndDay: store.Int(w.End)}
	if !w.Unbounded {
		q.StartDay = store.Int(w.Start)
	}
	return q
}

// PlanWindows returns the ranges visible on day c, in tier order. Resolution
// coarsens by 10x per tier with distance from c, and adjacent tiers never
// cover the same day:
//
//	daily_summary  c-9 .. c       one window per day
//	level_10       c-100 .. c-10
//	level_100      c-1000 .. c-101
//	level_1000     c-10000 .. c-1001   (c > 1000)
//	level_archive  .. c-10001          (c > 10000)
//
// The raw window is always [c, c].
func PlanWindows(c int) []Window {
	ws := []Window{{Tier: tier.DailyRaw, Start: c, End: c}}

	for d := max(1, c-9); d <= c; d++ {
		ws = append(ws, Window{Tier: tier.DailySummary, Start: d, End: d})
	}
	ws = appendStepped(ws, tier.Level10, max(1, c-100), c-10, 10)
	ws = appendStepped(ws, tier.Level100, max(1, c-1000), c-101, 100)
	if c > 1000 {
		ws = appendStepped(ws, tier.Level1000, max(1, c-10000), c-1001, 1000)
	}
	if c > 10000 {
		ws = append(ws, Window{Tier: tier.Archive, End: c - 10001, Unbounded: true})
	}
	return ws
}

// appendStepped adds windows of size step starting at from. The last window
// is clipped to limit; none starts past it.
func appendStepped(ws []Window, t tier.Tier, from, limit, step int) []Window {
	for s := from; s <= limit; s += step {
		ws = append(ws, Window{Tier: t, Start: s, End: min(s+step-1, limit)})
	}
	return ws
}

// Bucket holds what one tier contributed to a context.
type Bucket struct {
	Tier    tier.Tier      `json:"tier"`
	Records []store.Record `json:"records"`
}

// Entry is a labeled record in a context.
type Entry struct {
	Label  string       `json:"label"`
	Record store.Record `json:"record"`
}

// Context is the memory visible to an entity on a given day.
type Context struct {
	EntityID   string   `json:"entity_id"`
	CurrentDay int      `json:"current_day"`
	Buckets    []Bucket `json:"buckets"` // one per tier, in level order
	Entries    []Entry  `json:"entries"` // newest start_day first
}

// Format renders the context with FormatContext.
func (c *Context) Format() string {
	return FormatContext(c.Entries)
}

// RetrieveContext fetches every window planned for currentDay. Tiers with no
// data yield empty buckets.
func (e *Engine) RetrieveContext(ctx context.Context, entityID string, currentDay int) (*Context, error) {
	if currentDay < 0 {
		return nil, fmt.Errorf("retrieve day %d: %w", currentDay, ErrInvalidDay)
	}
	ent, err := e.getEntity(entityID)
	if err != nil {
		return nil, err
	}

	out := &Context{
		EntityID:   ent.ID,
		CurrentDay: currentDay,
		Buckets:    make([]Bucket, len(tier.All())),
		Entries:    []Entry{},
	}
	for i, t := range tier.All() {
		out.Buckets[i] = Bucket{Tier: t, Records: []store.Record{}}
	}

	for _, w := range PlanWindows(currentDay) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs, err := e.Store.QueryRecords(w.query(ent.ID))
		if err != nil {
			return nil, persistErr("query "+w.Tier.String(), err)
		}
		b := &out.Buckets[w.Tier.Level()]
		for _, r := range recs {
			b.Records = append(b.Records, r)
			out.Entries = append(out.Entries, Entry{Label: Label(r, currentDay), Record: r})
		}
	}

	sort.SliceStable(out.Entries, func(i, j int) bool {
		return out.Entries[i].Record.StartDay > out.Entries[j].Record.StartDay
	})
	return out, nil
}

// Label describes how long ago a record's window was, relative to day c.
func Label(r store.Record, c int) string {
	switch r.Tier {
	case tier.DailyRaw:
		return "today's record"
	case tier.DailySummary:
		switch n := c - r.StartDay; n {
		case 0:
			return "today"
		case 1:
			return "yesterday"
		default:
			return fmt.Sprintf("%d days ago", n)
		}
	case tier.Archive:
		return fmt.Sprintf("before %d days ago", c-r.EndDay)
	default:
		return fmt.Sprintf("%d〜%d days ago", c-r.EndDay, c-r.StartDay)
	}
}
