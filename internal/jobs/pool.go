package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// cronParser accepts the same standard-or-seconds cron syntax the
// teacher's scheduling packages use.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Executor runs one Agent Loop instance for a session. Implemented by
// *agentloop.Loop's Run method.
type Executor interface {
	Execute(ctx context.Context, sessionID string) error
}

// ExecutorFunc adapts a bare function to Executor.
type ExecutorFunc func(ctx context.Context, sessionID string) error

func (f ExecutorFunc) Execute(ctx context.Context, sessionID string) error {
	return f(ctx, sessionID)
}

// PoolConfig configures the session-execution worker pool.
type PoolConfig struct {
	// Workers bounds how many sessions run concurrently.
	Workers int
	// PollInterval is how often an idle worker checks the queue for a
	// new job when ClaimNext returns nothing.
	PollInterval time.Duration
	// PruneSchedule is a cron expression controlling how often terminal
	// jobs are swept from the store ("jobs.prune_schedule").
	PruneSchedule string
	// PruneRetention is how long a terminal job is kept before a sweep
	// removes it.
	PruneRetention time.Duration

	Logger zerolog.Logger
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.PruneSchedule == "" {
		c.PruneSchedule = "0 */6 * * *"
	}
	if c.PruneRetention <= 0 {
		c.PruneRetention = 7 * 24 * time.Hour
	}
	return c
}

// Pool is a bounded pool of worker goroutines, each pulling queued
// session jobs and running one Agent Loop instance per job —
// satisfying the "one task per live session, thousands expected"
// concurrency model without a hand-rolled scheduler ,
// grounded on internal/tasks/scheduler.go's Config/Start/Stop/poll-loop
// idiom and internal/cron/schedule.go's cron-expression parsing for the
// prune sweep.
type Pool struct {
	store    Store
	executor Executor
	cfg      PoolConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool constructs a Pool. store persists job state; executor runs a
// session's Agent Loop to completion.
func NewPool(store Store, executor Executor, cfg PoolConfig) *Pool {
	return &Pool{store: store, executor: executor, cfg: cfg.withDefaults()}
}

// Enqueue creates a queued job for sessionID.
func (p *Pool) Enqueue(ctx context.Context, jobID, sessionID string) error {
	return p.store.Create(ctx, &Job{
		ID:        jobID,
		SessionID: sessionID,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	})
}

// Start launches the worker goroutines and the prune loop. It returns
// once they're running; call Stop (or cancel ctx) to shut down.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	p.cfg.Logger.Info().Int("workers", p.cfg.Workers).Msg("starting session worker pool")

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx)
	}

	p.wg.Add(1)
	go p.pruneLoop(ctx)

	return nil
}

// Stop cancels all running work and waits for the pool's goroutines to
// exit, bounded by ctx.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) workerLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.claimAndRun(ctx)
		}
	}
}

func (p *Pool) claimAndRun(ctx context.Context) {
	job, err := p.store.ClaimNext(ctx)
	if err != nil {
		p.cfg.Logger.Error().Err(err).Msg("claim next job")
		return
	}
	if job == nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	if ms, ok := p.store.(*MemoryStore); ok {
		ms.SetCancelFunc(job.ID, cancel)
	}
	defer cancel()

	err = p.executor.Execute(runCtx, job.SessionID)

	job.FinishedAt = time.Now()
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		p.cfg.Logger.Error().Err(err).Str("session_id", job.SessionID).Msg("session run failed")
	} else {
		job.Status = StatusSucceeded
	}
	if updateErr := p.store.Update(ctx, job); updateErr != nil {
		p.cfg.Logger.Error().Err(updateErr).Str("job_id", job.ID).Msg("update job after run")
	}
}

func (p *Pool) pruneLoop(ctx context.Context) {
	defer p.wg.Done()

	schedule, err := cronParser.Parse(p.cfg.PruneSchedule)
	if err != nil {
		p.cfg.Logger.Error().Err(err).Str("schedule", p.cfg.PruneSchedule).Msg("invalid prune schedule, prune loop disabled")
		return
	}

	for {
		next := schedule.Next(time.Now())
		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			pruned, err := p.store.Prune(ctx, p.cfg.PruneRetention)
			if err != nil {
				p.cfg.Logger.Error().Err(err).Msg("prune jobs")
				continue
			}
			if pruned > 0 {
				p.cfg.Logger.Info().Int64("pruned", pruned).Msg("pruned terminal session jobs")
			}
		}
	}
}

// ValidatePruneSchedule reports whether expr is a parseable cron
// expression, for config validation before Start is ever called.
func ValidatePruneSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", expr, err)
	}
	return nil
}
