package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lazypower/tiermem/internal/client"
	"github.com/lazypower/tiermem/internal/config"
	"github.com/lazypower/tiermem/internal/engine"
	"github.com/lazypower/tiermem/internal/llm"
	"github.com/lazypower/tiermem/internal/logging"
	"github.com/lazypower/tiermem/internal/server"
	"github.com/lazypower/tiermem/internal/store"
)

// backend is what the entity, record and sleep commands run against: a
// remote server through the HTTP client, or the database in-process.
type backend interface {
	CreateEntity(ctx context.Context, ownerID, name string, cfg map[string]any) (*store.Entity, error)
	ListEntities(ctx context.Context) ([]store.Entity, error)
	GetEntity(ctx context.Context, id string) (*server.EntityView, error)
	AddRecord(ctx context.Context, entityID string, day int, content string) (*store.Record, error)
	Ingest(ctx context.Context, entityID string, day int, transcript string) (*server.IngestResult, error)
	ListRecords(ctx context.Context, q store.RecordQuery) ([]store.Record, error)
	Sleep(ctx context.Context, entityID string, day int) (*engine.RunResult, error)
	ResetSessions(ctx context.Context, entityID string) (int, error)
	Context(ctx context.Context, entityID string, day int) (*server.ContextView, error)
}

// openBackend returns the backend selected by the root flags and a func
// that releases it.
func openBackend(opts *rootOptions) (backend, func(), error) {
	if !opts.local {
		return client.New(opts.serverURL), func() {}, nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	db, _, err := openDB(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	eng := newEngine(db, cfg, log)
	return &localBackend{db: db, eng: eng}, func() {
		db.Close()
		log.Sync()
	}, nil
}

// openDB opens the configured database and returns a printable location.
func openDB(cfg config.DatabaseConfig) (*store.DB, string, error) {
	if cfg.Driver == "postgres" {
		db, err := store.OpenPostgres(cfg.DSN)
		if err != nil {
			return nil, "", fmt.Errorf("open database: %w", err)
		}
		return db, db.Path, nil
	}

	path := cfg.Path
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}
	return db, path, nil
}

// newEngine builds the engine. A misconfigured LLM leaves the engine
// without a client, so promotions fail per the configured policy.
func newEngine(db *store.DB, cfg config.Config, log *zap.Logger) *engine.Engine {
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		log.Warn("LLM not configured, summaries disabled", zap.Error(err))
		llmClient = nil
	} else {
		log.Info("llm", zap.String("provider", cfg.LLM.Provider), zap.String("model", cfg.LLM.Model))
	}
	return engine.FromConfig(db, llmClient, cfg.Promotion, log)
}

type localBackend struct {
	db  *store.DB
	eng *engine.Engine
}

func (b *localBackend) CreateEntity(_ context.Context, ownerID, name string, cfg map[string]any) (*store.Entity, error) {
	return b.db.CreateEntity(ownerID, name, cfg)
}

func (b *localBackend) ListEntities(context.Context) ([]store.Entity, error) {
	return b.db.ListEntities()
}

func (b *localBackend) GetEntity(_ context.Context, id string) (*server.EntityView, error) {
	ent, err := b.db.GetEntity(id)
	if err != nil {
		return nil, err
	}
	counts, err := b.db.CountRecords(ent.ID)
	if err != nil {
		return nil, err
	}
	return &server.EntityView{Entity: ent, RecordCounts: counts}, nil
}

func (b *localBackend) AddRecord(_ context.Context, entityID string, day int, content string) (*store.Record, error) {
	return b.eng.AddRawRecord(entityID, day, content)
}

func (b *localBackend) Ingest(ctx context.Context, entityID string, day int, transcript string) (*server.IngestResult, error) {
	rec, err := b.eng.IngestConversation(ctx, entityID, day, transcript)
	if err != nil {
		return nil, err
	}
	return &server.IngestResult{Created: rec != nil, Record: rec}, nil
}

func (b *localBackend) ListRecords(_ context.Context, q store.RecordQuery) ([]store.Record, error) {
	if _, err := b.db.GetEntity(q.EntityID); err != nil {
		return nil, err
	}
	return b.db.QueryRecords(q)
}

func (b *localBackend) Sleep(ctx context.Context, entityID string, day int) (*engine.RunResult, error) {
	res := b.eng.RunSleepCycle(ctx, entityID, day)
	return &res, res.Err
}

func (b *localBackend) ResetSessions(_ context.Context, entityID string) (int, error) {
	return b.eng.EndSleepSession(entityID)
}

func (b *localBackend) Context(ctx context.Context, entityID string, day int) (*server.ContextView, error) {
	c, err := b.eng.RetrieveContext(ctx, entityID, day)
	if err != nil {
		return nil, err
	}
	return &server.ContextView{Context: c, Formatted: c.Format()}, nil
}
