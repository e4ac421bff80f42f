package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/hotlabel/internal/config"
	herrors "github.com/Iron-Ham/hotlabel/internal/errors"
	"github.com/Iron-Ham/hotlabel/internal/event"
	"github.com/Iron-Ham/hotlabel/internal/profile"
	"github.com/Iron-Ham/hotlabel/internal/response"
	"github.com/Iron-Ham/hotlabel/internal/taskstore"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig(driver string) *config.Config {
	cfg := config.Default()
	cfg.Store.Driver = driver
	cfg.Store.SnapshotInterval = 0
	cfg.Evaluator.Interval = 0
	return cfg
}

func openEngine(t *testing.T, driver string, fs afero.Fs, c *clock) *Engine {
	t.Helper()
	dir := "/data"
	if driver == "sqlite" {
		dir = t.TempDir()
	}
	e, err := Open(context.Background(), testConfig(driver),
		WithFs(fs),
		WithDataDir(dir),
		WithClock(c.Now),
	)
	if err != nil {
		t.Fatalf("Open(%s) error = %v", driver, err)
	}
	return e
}

func forEachDriver(t *testing.T, fn func(t *testing.T, e *Engine, c *clock)) {
	for _, driver := range []string{"memory", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			c := &clock{now: epoch}
			e := openEngine(t, driver, afero.NewMemMapFs(), c)
			t.Cleanup(func() { _ = e.Close() })
			fn(t, e, c)
		})
	}
}

func vqaTask(id string) *taskstore.Task {
	return &taskstore.Task{
		ID:         id,
		Language:   "en",
		Category:   taskstore.CategoryVQA,
		Type:       taskstore.TypeVQA,
		Complexity: 1,
		Question:   taskstore.Question{Text: "What is in the picture?"},
	}
}

func english() profile.Attributes {
	return profile.Attributes{Language: "en"}
}

func TestEngine_SingleTaskServedOnce(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *Engine, _ *clock) {
		ctx := context.Background()
		if _, err := e.CreateTask(ctx, vqaTask("T1")); err != nil {
			t.Fatalf("CreateTask() error = %v", err)
		}

		got, err := e.RequestTask(ctx, "S1", english())
		if err != nil {
			t.Fatalf("RequestTask(S1) error = %v", err)
		}
		if got.ID != "T1" || got.AssignedTo != "S1" {
			t.Fatalf("RequestTask(S1) = %s held by %q, want T1 held by S1", got.ID, got.AssignedTo)
		}

		if _, err := e.RequestTask(ctx, "S2", english()); !herrors.Is(err, herrors.ErrNoTaskAvailable) {
			t.Fatalf("RequestTask(S2) error = %v, want ErrNoTaskAvailable", err)
		}

		resp, err := e.SubmitResponse(ctx, response.Submission{
			TaskID:    "T1",
			SessionID: "S1",
			Payload:   json.RawMessage(`{"answer":"a cat"}`),
			LatencyMS: 4000,
		})
		if err != nil {
			t.Fatalf("SubmitResponse() error = %v", err)
		}
		if resp.Status != response.StatusPending {
			t.Errorf("Status = %s, want %s", resp.Status, response.StatusPending)
		}

		task, err := e.GetTask(ctx, "T1")
		if err != nil {
			t.Fatalf("GetTask() error = %v", err)
		}
		if task.State != taskstore.StateCompleted {
			t.Errorf("State = %s, want completed", task.State)
		}

		if _, err := e.RequestTask(ctx, "S2", english()); !herrors.Is(err, herrors.ErrNoTaskAvailable) {
			t.Fatalf("RequestTask(S2) after completion error = %v, want ErrNoTaskAvailable", err)
		}

		sum, err := e.Sweep(ctx)
		if err != nil {
			t.Fatalf("Sweep() error = %v", err)
		}
		if sum.Evaluated != 1 || sum.Accepted != 1 {
			t.Errorf("Sweep() = %+v, want 1 evaluated and accepted", sum)
		}
		evaluated, err := e.GetResponse(ctx, resp.ID)
		if err != nil {
			t.Fatalf("GetResponse() error = %v", err)
		}
		if evaluated.Status != response.StatusAccepted {
			t.Errorf("Status after sweep = %s, want accepted", evaluated.Status)
		}
	})
}

func TestEngine_LateSubmitAfterReclaim(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *Engine, c *clock) {
		ctx := context.Background()
		if _, err := e.CreateTask(ctx, vqaTask("T2")); err != nil {
			t.Fatalf("CreateTask() error = %v", err)
		}
		if _, err := e.RequestTask(ctx, "S3", english()); err != nil {
			t.Fatalf("RequestTask(S3) error = %v", err)
		}

		c.Advance(11 * time.Minute)
		sum, err := e.Sweep(ctx)
		if err != nil {
			t.Fatalf("Sweep() error = %v", err)
		}
		if sum.Reclaimed != 1 {
			t.Errorf("Reclaimed = %d, want 1", sum.Reclaimed)
		}

		task, err := e.GetTask(ctx, "T2")
		if err != nil {
			t.Fatalf("GetTask() error = %v", err)
		}
		if task.State != taskstore.StatePending || task.AssignedTo != "" {
			t.Fatalf("after reclaim: state %s holder %q, want pending and unheld", task.State, task.AssignedTo)
		}

		_, err = e.SubmitResponse(ctx, response.Submission{
			TaskID:    "T2",
			SessionID: "S3",
			Payload:   json.RawMessage(`{"answer":"late"}`),
			LatencyMS: 5000,
		})
		if !herrors.Is(err, herrors.ErrAssignmentMismatch) {
			t.Fatalf("SubmitResponse() error = %v, want ErrAssignmentMismatch", err)
		}

		// S3 has already seen T2, so a fresh session gets it instead.
		if _, err := e.RequestTask(ctx, "S3", english()); !herrors.Is(err, herrors.ErrNoTaskAvailable) {
			t.Errorf("RequestTask(S3) again error = %v, want ErrNoTaskAvailable", err)
		}
		got, err := e.RequestTask(ctx, "S4", english())
		if err != nil || got.ID != "T2" {
			t.Errorf("RequestTask(S4) = %v, %v; want T2", got, err)
		}
	})
}

func TestEngine_Stats(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *Engine, _ *clock) {
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			if _, err := e.CreateTask(ctx, vqaTask(id)); err != nil {
				t.Fatalf("CreateTask(%s) error = %v", id, err)
			}
		}
		task, err := e.RequestTask(ctx, "s-1", english())
		if err != nil {
			t.Fatalf("RequestTask() error = %v", err)
		}
		if _, err := e.SubmitResponse(ctx, response.Submission{
			TaskID: task.ID, SessionID: "s-1", Payload: json.RawMessage(`"ok"`), LatencyMS: 3000,
		}); err != nil {
			t.Fatalf("SubmitResponse() error = %v", err)
		}
		if _, err := e.RequestTask(ctx, "s-2", english()); err != nil {
			t.Fatalf("RequestTask() error = %v", err)
		}

		s, err := e.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		if s.Tasks.Total != 3 || s.Tasks.Completed != 1 || s.Tasks.Assigned != 1 || s.Tasks.Pending != 1 {
			t.Errorf("Tasks = %+v, want 3 total / 1 each", s.Tasks)
		}
		if s.QueueDepth != (QueueDepth{Pending: 1, Assigned: 1}) {
			t.Errorf("QueueDepth = %+v, want 1/1", s.QueueDepth)
		}
		if s.Sessions != 2 {
			t.Errorf("Sessions = %d, want 2", s.Sessions)
		}
		if s.ByCategory["vqa"] != 3 {
			t.Errorf("ByCategory[vqa] = %d, want 3", s.ByCategory["vqa"])
		}
		if s.Responses.Total != 1 {
			t.Errorf("Responses.Total = %d, want 1", s.Responses.Total)
		}
		if want := 100.0 / 3; s.CompletionRate < want-0.01 || s.CompletionRate > want+0.01 {
			t.Errorf("CompletionRate = %f, want %f", s.CompletionRate, want)
		}
		if s.LastSweep != nil {
			t.Errorf("LastSweep = %+v before any sweep, want nil", s.LastSweep)
		}
	})
}

func TestEngine_StatsCountsHandlerPanics(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *Engine, _ *clock) {
		ctx := context.Background()
		e.Bus().Subscribe(event.TypeTaskCreated, func(event.Event) {
			panic("broken subscriber")
		})

		// The store publishes after committing, so a broken subscriber
		// never fails the write.
		if _, err := e.CreateTask(ctx, vqaTask("a")); err != nil {
			t.Fatalf("CreateTask() error = %v", err)
		}
		s, err := e.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		if s.Tasks.Total != 1 {
			t.Errorf("Tasks.Total = %d, want 1", s.Tasks.Total)
		}
		if got := s.Counters["events:handler_panics"]; got != 1 {
			t.Errorf("events:handler_panics = %d, want 1", got)
		}
	})
}

func TestEngine_MatchTasksDoesNotAssign(t *testing.T) {
	forEachDriver(t, func(t *testing.T, e *Engine, _ *clock) {
		ctx := context.Background()
		sports := vqaTask("sports")
		sports.Topic = "sports"
		if _, err := e.CreateTask(ctx, sports); err != nil {
			t.Fatal(err)
		}
		if _, err := e.CreateTask(ctx, vqaTask("other")); err != nil {
			t.Fatal(err)
		}

		matches, err := e.MatchTasks(ctx, "s-1", profile.Attributes{Language: "en", Topic: "sports"}, 5)
		if err != nil {
			t.Fatalf("MatchTasks() error = %v", err)
		}
		if len(matches) != 2 || matches[0].Task.ID != "sports" {
			t.Fatalf("MatchTasks() = %v, want sports first of 2", matches)
		}
		s, _ := e.Stats(ctx)
		if s.Tasks.Pending != 2 {
			t.Errorf("Pending = %d after MatchTasks, want 2", s.Tasks.Pending)
		}
	})
}

func TestEngine_MemorySnapshotSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	c := &clock{now: epoch}

	e := openEngine(t, "memory", fs, c)
	if _, err := e.CreateTask(ctx, vqaTask("T1")); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RequestTask(ctx, "S1", english()); err != nil {
		t.Fatal(err)
	}
	resp, err := e.SubmitResponse(ctx, response.Submission{
		TaskID: "T1", SessionID: "S1", Payload: json.RawMessage(`"x"`), LatencyMS: 2000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened := openEngine(t, "memory", fs, c)
	defer func() { _ = reopened.Close() }()

	task, err := reopened.GetTask(ctx, "T1")
	if err != nil {
		t.Fatalf("GetTask() after restart error = %v", err)
	}
	if task.State != taskstore.StateCompleted {
		t.Errorf("State = %s, want completed", task.State)
	}
	if _, err := reopened.GetResponse(ctx, resp.ID); err != nil {
		t.Errorf("GetResponse() after restart error = %v", err)
	}
}

func TestEngine_MemoryDataDirHasSingleOwner(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: epoch}

	tests := []struct {
		name string
		fs   afero.Fs
		dir  func(t *testing.T) string
	}{
		{name: "memory fs", fs: afero.NewMemMapFs(), dir: func(*testing.T) string { return "/data" }},
		{name: "os fs", fs: afero.NewOsFs(), dir: func(t *testing.T) string { return t.TempDir() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := tt.dir(t)
			open := func() (*Engine, error) {
				return Open(ctx, testConfig("memory"), WithFs(tt.fs), WithDataDir(dir), WithClock(c.Now))
			}

			server, err := open()
			if err != nil {
				t.Fatalf("Open(server) error = %v", err)
			}

			// A second engine would load a stale copy and later overwrite
			// the server's snapshot, so it must be refused up front.
			cli, err := open()
			if err == nil {
				_ = cli.Close()
				t.Fatal("second Open on an owned data dir succeeded")
			}
			if !herrors.Is(err, taskstore.ErrDataDirLocked) || !herrors.Is(err, herrors.ErrStoreUnavailable) {
				t.Fatalf("second Open error = %v, want ErrDataDirLocked and ErrStoreUnavailable", err)
			}

			if _, err := server.CreateTask(ctx, vqaTask("served")); err != nil {
				t.Fatal(err)
			}
			if err := server.Close(); err != nil {
				t.Fatalf("Close(server) error = %v", err)
			}

			cli, err = open()
			if err != nil {
				t.Fatalf("Open after server Close error = %v", err)
			}
			if _, err := cli.CreateTask(ctx, vqaTask("imported")); err != nil {
				t.Fatal(err)
			}
			if err := cli.Close(); err != nil {
				t.Fatalf("Close(cli) error = %v", err)
			}

			fresh, err := open()
			if err != nil {
				t.Fatalf("Open(fresh) error = %v", err)
			}
			defer func() { _ = fresh.Close() }()
			for _, id := range []string{"served", "imported"} {
				if _, err := fresh.GetTask(ctx, id); err != nil {
					t.Errorf("GetTask(%s) error = %v", id, err)
				}
			}
		})
	}
}

func TestEngine_SQLiteDataDirIsShared(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := &clock{now: epoch}
	open := func() *Engine {
		e, err := Open(ctx, testConfig("sqlite"), WithDataDir(dir), WithClock(c.Now))
		if err != nil {
			t.Fatalf("Open(sqlite) error = %v", err)
		}
		return e
	}

	server := open()
	defer func() { _ = server.Close() }()
	cli := open()
	if _, err := cli.CreateTask(ctx, vqaTask("imported")); err != nil {
		t.Fatal(err)
	}
	if err := cli.Close(); err != nil {
		t.Fatalf("Close(cli) error = %v", err)
	}

	if _, err := server.GetTask(ctx, "imported"); err != nil {
		t.Errorf("server GetTask(imported) error = %v", err)
	}
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	e := openEngine(t, "memory", afero.NewMemMapFs(), &clock{now: epoch})
	e.Start(context.Background())
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestEngine_Reconfigure(t *testing.T) {
	e := openEngine(t, "memory", afero.NewMemMapFs(), &clock{now: epoch})
	defer func() { _ = e.Close() }()

	cfg := testConfig("memory")
	cfg.Assignment.TTL = 30 * time.Second
	cfg.Assignment.MaxAttempts = 9
	cfg.Evaluator.Workers = 2
	cfg.Profile.Smoothing = 0.5
	e.Reconfigure(cfg)

	if got := e.matcher.Settings(); got.TTL != 30*time.Second || got.MaxAttempts != 9 {
		t.Errorf("matcher settings = %+v, want TTL 30s and 9 attempts", got)
	}
	if got := e.evaluator.Settings().Workers; got != 2 {
		t.Errorf("evaluator workers = %d, want 2", got)
	}
	if got := e.profiles.Smoothing().Quality; got != 0.5 {
		t.Errorf("profile smoothing = %f, want 0.5", got)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), testConfig("postgres"), WithFs(afero.NewMemMapFs()), WithDataDir("/data"))
	if err == nil {
		t.Fatal("Open() error = nil, want unknown driver error")
	}
}

func TestEngine_EvaluatorPoolFollowsBacklog(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig("memory")
	cfg.Evaluator.Workers = 1
	cfg.Evaluator.MaxWorkers = 4
	cfg.Evaluator.BatchSize = 1
	cfg.Evaluator.BacklogPerWorker = 1
	cfg.Evaluator.ScaleCooldown = 0

	c := &clock{now: epoch}
	e, err := Open(ctx, cfg, WithFs(afero.NewMemMapFs()), WithDataDir("/data"), WithClock(c.Now))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = e.Close() }()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := e.CreateTask(ctx, vqaTask(id)); err != nil {
			t.Fatal(err)
		}
		sid := "s-" + id
		task, err := e.RequestTask(ctx, sid, english())
		if err != nil {
			t.Fatal(err)
		}
		if _, err := e.SubmitResponse(ctx, response.Submission{
			TaskID: task.ID, SessionID: sid, Payload: json.RawMessage(`"x"`), LatencyMS: 2000,
		}); err != nil {
			t.Fatal(err)
		}
	}

	before := e.Bus().SubscriptionCount()
	monitorCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go e.monitor.Start(monitorCtx)
	for e.Bus().SubscriptionCount() == before {
		time.Sleep(time.Millisecond)
	}

	if _, err := e.Sweep(ctx); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if got := e.evaluator.Settings().Workers; got != 2 {
		t.Errorf("workers after sweep with backlog 2 = %d, want 2", got)
	}

	if _, err := e.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	if got := e.evaluator.Settings().Workers; got != 1 {
		t.Errorf("workers after draining = %d, want 1", got)
	}
	s, _ := e.Stats(ctx)
	if s.Counters["sweeps:worker_resizes"] < 2 {
		t.Errorf("worker_resizes = %d, want at least 2", s.Counters["sweeps:worker_resizes"])
	}
}
