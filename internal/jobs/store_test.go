package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryStoreCRUD(t *testing.T) {
	store := NewMemoryStore()
	job := &Job{
		ID:        "job-1",
		SessionID: "session-1",
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}

	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ID != "job-1" || got.SessionID != "session-1" {
		t.Fatalf("expected job, got %+v", got)
	}

	job.Status = StatusSucceeded
	if err := store.Update(context.Background(), job); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = store.Get(context.Background(), "job-1")
	if got.Status != StatusSucceeded {
		t.Fatalf("expected status %q, got %q", StatusSucceeded, got.Status)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	got, err := store.Get(context.Background(), "nope")
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil), got (%+v, %v)", got, err)
	}
}

func TestMemoryStoreGetReturnsClone(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Create(context.Background(), &Job{ID: "job-1", SessionID: "s1", Status: StatusQueued})

	got, _ := store.Get(context.Background(), "job-1")
	got.Status = StatusFailed

	again, _ := store.Get(context.Background(), "job-1")
	if again.Status != StatusQueued {
		t.Fatalf("mutating a Get result should not affect the store, got status %q", again.Status)
	}
}

func TestMemoryStoreList(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		_ = store.Create(context.Background(), &Job{ID: id, SessionID: id, Status: StatusQueued, CreatedAt: time.Now()})
	}

	all, err := store.List(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 jobs, got %d", len(all))
	}

	page, err := store.List(context.Background(), 2, 1)
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(page))
	}
	if page[0].ID != all[1].ID {
		t.Fatalf("expected insertion order preserved, got %q want %q", page[0].ID, all[1].ID)
	}
}

func TestMemoryStoreListOffsetPastEnd(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Create(context.Background(), &Job{ID: "job-1", SessionID: "s1"})

	page, err := store.List(context.Background(), 10, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page != nil {
		t.Fatalf("expected nil page past the end, got %+v", page)
	}
}

func TestMemoryStoreClaimNext(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Create(context.Background(), &Job{ID: "job-1", SessionID: "s1", Status: StatusQueued, CreatedAt: time.Now()})
	_ = store.Create(context.Background(), &Job{ID: "job-2", SessionID: "s2", Status: StatusQueued, CreatedAt: time.Now().Add(time.Second)})

	claimed, err := store.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != "job-1" {
		t.Fatalf("expected to claim the oldest queued job, got %+v", claimed)
	}
	if claimed.Status != StatusRunning {
		t.Fatalf("expected claimed job to be marked running, got %q", claimed.Status)
	}

	second, err := store.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if second == nil || second.ID != "job-2" {
		t.Fatalf("expected second claim to skip the already-running job, got %+v", second)
	}

	empty, err := store.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if empty != nil {
		t.Fatalf("expected nil once the queue is drained, got %+v", empty)
	}
}

func TestMemoryStoreClaimNextConcurrentIsExclusive(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < 20; i++ {
		id := "job-" + string(rune('a'+i))
		_ = store.Create(context.Background(), &Job{ID: id, SessionID: id, Status: StatusQueued, CreatedAt: time.Now()})
	}

	seen := make(map[string]struct{})
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := store.ClaimNext(context.Background())
			if err != nil || job == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if _, dup := seen[job.ID]; dup {
				t.Errorf("job %q claimed twice", job.ID)
			}
			seen[job.ID] = struct{}{}
		}()
	}
	wg.Wait()
	if len(seen) != 20 {
		t.Fatalf("expected 20 distinct claims, got %d", len(seen))
	}
}

func TestMemoryStorePrune(t *testing.T) {
	store := NewMemoryStore()
	old := &Job{ID: "old", SessionID: "s1", Status: StatusSucceeded, CreatedAt: time.Now().Add(-48 * time.Hour)}
	recent := &Job{ID: "recent", SessionID: "s2", Status: StatusSucceeded, CreatedAt: time.Now()}
	running := &Job{ID: "running", SessionID: "s3", Status: StatusRunning, CreatedAt: time.Now().Add(-48 * time.Hour)}
	_ = store.Create(context.Background(), old)
	_ = store.Create(context.Background(), recent)
	_ = store.Create(context.Background(), running)

	pruned, err := store.Prune(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned job, got %d", pruned)
	}
	if got, _ := store.Get(context.Background(), "old"); got != nil {
		t.Fatal("expected old terminal job to be pruned")
	}
	if got, _ := store.Get(context.Background(), "recent"); got == nil {
		t.Fatal("expected recent terminal job to survive")
	}
	if got, _ := store.Get(context.Background(), "running"); got == nil {
		t.Fatal("expected non-terminal job to survive regardless of age")
	}
}

func TestMemoryStoreCancel(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Create(context.Background(), &Job{ID: "job-1", SessionID: "s1", Status: StatusRunning})

	var cancelled bool
	store.SetCancelFunc("job-1", func() { cancelled = true })

	if err := store.Cancel(context.Background(), "job-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !cancelled {
		t.Fatal("expected registered cancelFunc to be invoked")
	}

	got, _ := store.Get(context.Background(), "job-1")
	if got.Status != StatusFailed || got.Error == "" {
		t.Fatalf("expected cancelled job marked failed with an error, got %+v", got)
	}
}

func TestMemoryStoreCancelNonExistent(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Cancel(context.Background(), "nope"); err != nil {
		t.Fatalf("cancel on missing job should be a no-op, got %v", err)
	}
}

func TestMemoryStoreCancelIgnoresTerminalJob(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Create(context.Background(), &Job{ID: "job-1", SessionID: "s1", Status: StatusSucceeded})

	if err := store.Cancel(context.Background(), "job-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := store.Get(context.Background(), "job-1")
	if got.Status != StatusSucceeded {
		t.Fatalf("cancel should not touch an already-terminal job, got %q", got.Status)
	}
}

// fakeExecutor drives claimAndRun in isolation from a real agent loop.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeExecutor) Execute(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	f.calls = append(f.calls, sessionID)
	f.mu.Unlock()
	return f.err
}

func TestPoolEnqueueAndRun(t *testing.T) {
	store := NewMemoryStore()
	exec := &fakeExecutor{}
	pool := NewPool(store, exec, PoolConfig{Workers: 2, PollInterval: 5 * time.Millisecond})

	if err := pool.Enqueue(context.Background(), "job-1", "session-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer pool.Stop(context.Background())

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		job, _ := store.Get(context.Background(), "job-1")
		if job != nil && job.Status == StatusSucceeded {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected job-1 to complete within the deadline")
}

func TestPoolMarksFailedJobFromExecutorError(t *testing.T) {
	store := NewMemoryStore()
	exec := &fakeExecutor{err: errors.New("boom")}
	pool := NewPool(store, exec, PoolConfig{Workers: 1, PollInterval: 5 * time.Millisecond})
	_ = pool.Enqueue(context.Background(), "job-1", "session-1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = pool.Start(ctx)
	defer pool.Stop(context.Background())

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		job, _ := store.Get(context.Background(), "job-1")
		if job != nil && job.Status == StatusFailed {
			if job.Error == "" {
				t.Fatal("expected failed job to carry the executor's error message")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected job-1 to be marked failed within the deadline")
}

func TestValidatePruneSchedule(t *testing.T) {
	if err := ValidatePruneSchedule("0 */6 * * *"); err != nil {
		t.Fatalf("expected a valid cron expression to pass, got %v", err)
	}
	if err := ValidatePruneSchedule("not a cron expression"); err == nil {
		t.Fatal("expected an invalid cron expression to fail")
	}
}
