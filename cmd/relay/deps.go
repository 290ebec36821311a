package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sony/gobreaker/v2"

	_ "github.com/lib/pq"

	"github.com/relayhq/relay/internal/agentloop"
	"github.com/relayhq/relay/internal/config"
	"github.com/relayhq/relay/internal/contextstore"
	"github.com/relayhq/relay/internal/embeddings"
	"github.com/relayhq/relay/internal/events"
	"github.com/relayhq/relay/internal/jobs"
	"github.com/relayhq/relay/internal/keyresolver"
	"github.com/relayhq/relay/internal/memory"
	"github.com/relayhq/relay/internal/obslog"
	"github.com/relayhq/relay/internal/providers"
	"github.com/relayhq/relay/internal/routing"
	"github.com/relayhq/relay/internal/sessions"
	"github.com/relayhq/relay/internal/tools"
	"github.com/relayhq/relay/internal/toolindex"
	"github.com/relayhq/relay/internal/vectorstore"
	"github.com/relayhq/relay/pkg/models"
)

// deps holds every constructed component runServe needs, plus their
// close functions, so shutdown can unwind them in reverse order.
type deps struct {
	cfg         *config.Config
	logger      *obslog.Logger
	metrics     *obslog.Metrics
	tracer      *obslog.Tracer
	sessions    *sessions.CockroachStore
	jobs        *jobs.CockroachStore
	keyDB       *sql.DB
	keyResolver *keyresolver.Resolver
	vectors     *vectorstore.Store
	loop        *agentloop.Loop
	pool        *jobs.Pool

	shutdownTracer func(context.Context) error
}

// buildDeps wires every Relay component from cfg, grounded on the
// teacher's gateway.NewManagedServer constructor: one function,
// straight-line construction, closing whatever was opened on a later
// failure.
func buildDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	d := &deps{cfg: cfg}

	logLevel := cfg.Logging.Level
	logFormat := cfg.Logging.Format
	d.logger = obslog.NewLogger(obslog.LogConfig{Level: logLevel, Format: logFormat})

	if cfg.Observability.Metrics.Enabled {
		d.metrics = obslog.NewMetrics()
	}

	tracing := cfg.Observability.Tracing
	if tracing.Enabled {
		tracer, shutdown := obslog.NewTracer(obslog.TraceConfig{
			ServiceName:    tracing.ServiceName,
			ServiceVersion: tracing.ServiceVersion,
			Environment:    tracing.Environment,
			Endpoint:       tracing.Endpoint,
			SamplingRate:   tracing.SamplingRate,
			EnableInsecure: tracing.Insecure,
		})
		d.tracer = tracer
		d.shutdownTracer = shutdown
	}

	sessionStore, err := sessions.NewCockroachStore(cfg.Database.ToCockroachConfig())
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	d.sessions = sessionStore

	jobStore, err := jobs.NewCockroachStoreFromDSN(sessions.DSN(cfg.Database.ToCockroachConfig()), cfg.Jobs.ToCockroachConfig())
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open job store: %w", err)
	}
	d.jobs = jobStore

	keyDB, err := sql.Open("postgres", sessions.DSN(cfg.Database.ToCockroachConfig()))
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open key resolver database: %w", err)
	}
	d.keyDB = keyDB
	keyResolver, err := keyresolver.New(keyDB)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("build key resolver: %w", err)
	}
	d.keyResolver = keyResolver

	vectors, err := vectorstore.New(ctx, cfg.Milvus.Address)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	d.vectors = vectors

	systemEmbedding := cfg.Embedding.ToEmbeddingModelConfig("system-default")
	newEmbedder := func(c models.EmbeddingModelConfig) *embeddings.Client { return embeddings.New(c) }
	memoryService := memory.New(vectors, keyResolver, newEmbedder, memory.Config{
		SystemDefaultEmbedding: systemEmbedding,
	})

	registry := tools.New()
	dispatcher := tools.NewDispatcher(registry)

	toolResolver := func(ctx context.Context, userID *string) (toolindex.Embedder, int, bool, error) {
		cfg := systemEmbedding
		if userID != nil {
			userCfg, ok, err := keyResolver.ResolveEmbedding(ctx, userID)
			if err != nil {
				return nil, 0, false, err
			}
			if ok {
				cfg = userCfg
			}
		}
		if cfg.Dimension <= 0 || cfg.APIKey == "" {
			return nil, 0, false, nil
		}
		return embeddings.New(cfg), cfg.Dimension, true, nil
	}
	index := toolindex.New(vectors, registry, toolResolver)

	var onStateChange func(name string, from, to gobreaker.State)
	if d.metrics != nil {
		onStateChange = func(name string, from, to gobreaker.State) {
			d.metrics.RecordCircuitBreakerTransition(name, from.String(), to.String())
		}
	}
	primaryClient := providers.New(cfg.LLM.Primary.Provider, cfg.LLM.Primary.ToProviderConfig("system-primary"))
	fallbackClient := providers.New(cfg.LLM.Fallback.Provider, cfg.LLM.Fallback.ToProviderConfig("system-fallback"))
	router := routing.New(primaryClient, cfg.LLM.Primary.DefaultModel, fallbackClient, cfg.LLM.Fallback.DefaultModel,
		routing.WithStateChangeObserver(onStateChange))

	var onDrop events.DropHandler
	if d.metrics != nil {
		onDrop = func(sessionID string, event models.AgentEvent) {
			d.metrics.RecordEventDrop(sessionID)
		}
	}
	publisher := events.New(onDrop)

	contextStore := contextstore.New(sessionStore, cfg.Session.MaxContextMessages)

	d.loop = agentloop.New(agentloop.Config{
		Sessions:     sessionStore,
		Context:      contextStore,
		ToolIndex:    index,
		Registry:     registry,
		Dispatcher:   dispatcher,
		Memory:       memoryService,
		Publisher:    publisher,
		KeyResolver:  keyResolver,
		SystemRouter: router,
		NewUserClient: func(c models.ProviderConfig) agentloop.ChatCaller {
			return providers.New(c.Provider, c)
		},
		MaxIterations:        cfg.Session.MaxIterations,
		ToolIndexTopK:        cfg.Session.TopKTools,
		ResumePollInterval:   cfg.Session.ResumePollInterval(),
		StoreMemoryPrefixLen: cfg.Session.StoreMemoryPrefixLen,
		Metrics:              d.metrics,
		Tracer:               d.tracer,
	})

	d.pool = jobs.NewPool(jobStore, jobs.ExecutorFunc(d.loop.Run), jobs.PoolConfig{
		Workers:       cfg.Jobs.Workers,
		PruneSchedule: cfg.Jobs.PruneSchedule,
	})

	return d, nil
}

// Close unwinds whatever buildDeps managed to open, ignoring errors from
// components that were never opened.
func (d *deps) Close() {
	if d.shutdownTracer != nil {
		_ = d.shutdownTracer(context.Background())
	}
	if d.vectors != nil {
		_ = d.vectors.Close(context.Background())
	}
	if d.keyResolver != nil {
		_ = d.keyResolver.Close()
	}
	if d.keyDB != nil {
		_ = d.keyDB.Close()
	}
	if d.jobs != nil {
		_ = d.jobs.Close()
	}
	if d.sessions != nil {
		_ = d.sessions.Close()
	}
}
