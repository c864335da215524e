// Package engine compacts per-entity daily memories into coarser tiers and
// reassembles them into a time-decayed context.
package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/tiermem/internal/config"
	"github.com/lazypower/tiermem/internal/llm"
	"github.com/lazypower/tiermem/internal/logging"
	"github.com/lazypower/tiermem/internal/store"
	"github.com/lazypower/tiermem/internal/tier"
)

// Store is the persistence the engine runs against. *store.DB implements it.
type Store interface {
	GetEntity(id string) (*store.Entity, error)
	AddRecord(ownerID, entityID string, t tier.Tier, startDay, endDay int, content string) (*store.Record, error)
	UpsertRecord(ownerID, entityID string, t tier.Tier, startDay, endDay int, content string) (*store.Record, error)
	QueryRecords(q store.RecordQuery) ([]store.Record, error)
	MarkRecordsProcessed(ids []string) error
	MarkProcessed(id string, day int, at time.Time) error
	SetProcessing(id string, processing bool) error
	BeginSession(entityID, ownerID, sessionType string, props map[string]any) (*store.Session, error)
	EndSession(id, status string, props map[string]any) error
	EndActiveSessions(entityID string) (int, error)
}

// Policy decides what a failed generation does to a promotion run.
type Policy string

const (
	PolicySkip Policy = "skip" // drop the step, keep going
	PolicyFail Policy = "fail" // abort the run with ErrGeneration
)

// ArchiveMode selects which level_1000 records an archive run consumes.
type ArchiveMode string

const (
	ArchiveWatermark  ArchiveMode = "watermark"
	ArchiveCumulative ArchiveMode = "cumulative"
)

// Engine runs promotion, sleep cycles, and context retrieval.
type Engine struct {
	Store       Store
	Gen         *llm.Generator
	Log         *zap.Logger
	Policy      Policy
	ArchiveMode ArchiveMode

	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.Log = logging.OrNop(l) }
}

func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.Policy = p }
}

func WithArchiveMode(m ArchiveMode) Option {
	return func(e *Engine) { e.ArchiveMode = m }
}

// WithClock overrides time.Now for processed-at timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. Defaults are the skip policy and watermark archiving.
func New(st Store, gen *llm.Generator, opts ...Option) *Engine {
	e := &Engine{
		Store:       st,
		Gen:         gen,
		Log:         zap.NewNop(),
		Policy:      PolicySkip,
		ArchiveMode: ArchiveWatermark,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FromConfig wires an Engine from the promotion settings.
func FromConfig(st Store, client llm.Client, cfg config.PromotionConfig, log *zap.Logger) *Engine {
	log = logging.OrNop(log)
	gen := &llm.Generator{
		Client:  client,
		Timeout: cfg.Timeout(),
		Retries: cfg.Retries,
		Logger:  log.Named("llm"),
	}
	return New(st, gen,
		WithLogger(log),
		WithPolicy(Policy(cfg.OnGenerationError)),
		WithArchiveMode(ArchiveMode(cfg.ArchiveMode)),
	)
}
