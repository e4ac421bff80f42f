// Package engine assembles the dispatch engine from its parts and is the
// single entry point used by the HTTP API and the CLI.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/hotlabel/internal/config"
	"github.com/Iron-Ham/hotlabel/internal/evaluator"
	"github.com/Iron-Ham/hotlabel/internal/event"
	"github.com/Iron-Ham/hotlabel/internal/logging"
	"github.com/Iron-Ham/hotlabel/internal/matcher"
	"github.com/Iron-Ham/hotlabel/internal/profile"
	"github.com/Iron-Ham/hotlabel/internal/response"
	"github.com/Iron-Ham/hotlabel/internal/scaling"
	"github.com/Iron-Ham/hotlabel/internal/sqlitedb"
	"github.com/Iron-Ham/hotlabel/internal/stats"
	"github.com/Iron-Ham/hotlabel/internal/taskstore"
)

// Engine owns every component of a running dispatcher.
type Engine struct {
	logger  *logging.Logger
	bus     *event.Bus
	fs      afero.Fs
	dataDir string
	now     func() time.Time

	db        *sqlitedb.DB
	dirLock   *taskstore.DataDirLock
	memTasks  *taskstore.MemoryStore
	memRepo   *response.MemoryRepository
	tasks     *taskstore.EventStore
	responses response.Repository

	profiles   *profile.Tracker
	matcher    *matcher.Matcher
	reconciler *response.Reconciler
	evaluator  *evaluator.Evaluator
	runner     *evaluator.Runner
	policy     *scaling.Policy
	monitor    *scaling.Monitor
	stats      *stats.Collector

	mu               sync.Mutex
	snapshotInterval time.Duration
	stopSnapshots    context.CancelFunc
	snapshotsDone    chan struct{}
	stopMonitor      context.CancelFunc
	closed           bool
}

// Option configures Open.
type Option func(*Engine)

// WithLogger sets the logger shared by every component.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithFs sets the filesystem used for memory-backend snapshots.
func WithFs(fs afero.Fs) Option {
	return func(e *Engine) { e.fs = fs }
}

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDataDir overrides the data directory from the configuration.
func WithDataDir(dir string) Option {
	return func(e *Engine) { e.dataDir = dir }
}

// Open builds an engine from cfg. Stored tasks and responses are loaded
// from the configured backend; the background sweep is not started until
// Start is called. The memory backend owns its data directory until Close,
// so a second engine on the same directory fails with an error matching
// taskstore.ErrDataDirLocked. SQLite data directories can be shared.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		logger: logging.NopLogger(),
		fs:     afero.NewOsFs(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.dataDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		e.dataDir = cfg.Store.ResolveDataDir(cwd)
	}
	e.bus = event.NewBus(e.logger)
	e.snapshotInterval = cfg.Store.SnapshotInterval

	base, err := e.openBackend(cfg.Store.Driver)
	if err != nil {
		return nil, err
	}

	e.tasks, err = taskstore.NewEventStore(ctx, base, e.bus)
	if err != nil {
		e.closeBackend()
		return nil, fmt.Errorf("read queue depth: %w", err)
	}

	e.stats = stats.NewCollector()
	e.stats.Attach(e.bus)

	e.profiles = profile.NewTracker(
		profile.WithShards(cfg.Profile.Shards),
		profile.WithSmoothing(profileSmoothing(cfg)),
		profile.WithClock(e.now),
	)
	e.matcher = matcher.New(e.tasks, e.profiles, matcherSettings(cfg),
		matcher.WithLogger(e.logger),
		matcher.WithClock(e.now),
	)
	e.reconciler = response.NewReconciler(e.tasks, e.responses, e.profiles,
		response.WithLogger(e.logger),
		response.WithBus(e.bus),
		response.WithClock(e.now),
	)
	e.evaluator = evaluator.New(e.tasks, e.responses, e.profiles, evaluatorSettings(cfg),
		evaluator.WithLogger(e.logger),
		evaluator.WithBus(e.bus),
		evaluator.WithClock(e.now),
	)
	e.runner = evaluator.NewRunner(e.evaluator, cfg.Evaluator.Interval, e.bus, e.logger)

	minWorkers, maxWorkers := workerBounds(cfg)
	e.policy = scaling.NewPolicy(
		scaling.WithMinWorkers(minWorkers),
		scaling.WithMaxWorkers(maxWorkers),
		scaling.WithBacklogPerWorker(cfg.Evaluator.BacklogPerWorker),
		scaling.WithCooldownPeriod(cfg.Evaluator.ScaleCooldown),
		scaling.WithClock(e.now),
	)
	e.monitor = scaling.NewMonitor(e.bus, e.policy, e.reviewBacklog, cfg.Evaluator.Workers)
	e.monitor.SetLogger(e.logger)
	e.monitor.OnDecision(func(d scaling.Decision) {
		set := e.evaluator.Settings()
		set.Workers = d.Target
		e.evaluator.SetSettings(set)
	})

	e.logger.WithComponent("engine").Info("engine opened",
		"driver", cfg.Store.Driver,
		"data_dir", e.dataDir,
	)
	return e, nil
}

func (e *Engine) openBackend(driver string) (taskstore.Store, error) {
	switch driver {
	case "sqlite":
		db, err := sqlitedb.Open(e.dataDir)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		e.db = db
		e.responses = response.NewSQLiteRepository(db)
		return taskstore.NewSQLiteStore(db, taskstore.WithSQLiteClock(e.now)), nil
	case "memory", "":
		lock, err := taskstore.AcquireDataDir(e.fs, e.dataDir)
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
		tasks, err := taskstore.LoadSnapshot(e.fs, e.dataDir, taskstore.WithClock(e.now))
		if err != nil {
			_ = lock.Release()
			return nil, fmt.Errorf("load task snapshot: %w", err)
		}
		repo, err := response.LoadMemorySnapshot(e.fs, e.dataDir)
		if err != nil {
			_ = lock.Release()
			return nil, fmt.Errorf("load response snapshot: %w", err)
		}
		e.dirLock = lock
		e.memTasks, e.memRepo = tasks, repo
		e.responses = repo
		return tasks, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// workerBounds returns the evaluator pool limits. Without autoscaling both
// bounds equal the configured pool size, so the policy never resizes it.
func workerBounds(cfg *config.Config) (int, int) {
	return cfg.Evaluator.Workers, max(cfg.Evaluator.MaxWorkers, cfg.Evaluator.Workers)
}

// reviewBacklog counts responses waiting for the evaluator.
func (e *Engine) reviewBacklog(ctx context.Context) (int, error) {
	counts, err := e.responses.Counts(ctx)
	if err != nil {
		return 0, err
	}
	return counts.ByStatus[response.StatusPending], nil
}

func profileSmoothing(cfg *config.Config) profile.Smoothing {
	return profile.Smoothing{Quality: cfg.Profile.Smoothing, Interest: cfg.Profile.InterestSmoothing}
}

func matcherSettings(cfg *config.Config) matcher.Settings {
	return matcher.Settings{
		Weights: matcher.Weights{
			Exact:      cfg.Matcher.ExactWeight,
			Partial:    cfg.Matcher.PartialWeight,
			Interest:   cfg.Matcher.InterestWeight,
			Complexity: cfg.Matcher.ComplexityWeight,
		},
		CandidateLimit: cfg.Matcher.CandidateLimit,
		RetrySpread:    cfg.Matcher.RetrySpread,
		TTL:            cfg.Assignment.TTL,
		MaxAttempts:    cfg.Assignment.MaxAttempts,
		RetryTimeout:   cfg.Assignment.RetryTimeout,
	}
}

func evaluatorSettings(cfg *config.Config) evaluator.Settings {
	return evaluator.Settings{
		BatchSize:  cfg.Evaluator.BatchSize,
		Workers:    cfg.Evaluator.Workers,
		MinLatency: cfg.Evaluator.MinLatency(),
	}
}

// Bus returns the engine's event bus.
func (e *Engine) Bus() *event.Bus {
	return e.bus
}

// Start launches the evaluator loop, the pool-size monitor and, for the
// memory backend, the periodic snapshot loop.
func (e *Engine) Start(ctx context.Context) {
	e.runner.Start(ctx)

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	e.mu.Lock()
	e.stopMonitor = stopMonitor
	e.mu.Unlock()
	go e.monitor.Start(monitorCtx)

	if e.memTasks == nil || e.snapshotInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.stopSnapshots = cancel
	e.snapshotsDone = make(chan struct{})
	e.mu.Unlock()
	go e.snapshotLoop(ctx, e.snapshotInterval)
}

func (e *Engine) snapshotLoop(ctx context.Context, interval time.Duration) {
	defer close(e.snapshotsDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.SaveSnapshot(); err != nil {
				e.logger.WithComponent("engine").Warn("snapshot failed", "error", err)
			}
		}
	}
}

// SaveSnapshot persists the memory backend. It is a no-op for SQLite.
func (e *Engine) SaveSnapshot() error {
	if e.memTasks == nil {
		return nil
	}
	if err := e.memTasks.SaveSnapshot(e.fs, e.dataDir); err != nil {
		return fmt.Errorf("save tasks: %w", err)
	}
	if err := e.memRepo.SaveSnapshot(e.fs, e.dataDir); err != nil {
		return fmt.Errorf("save responses: %w", err)
	}
	return nil
}

// Close stops background work, persists the memory backend and releases
// the stores.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	stop, done := e.stopSnapshots, e.snapshotsDone
	stopMonitor := e.stopMonitor
	e.mu.Unlock()

	e.runner.Stop()
	e.monitor.Stop()
	if stopMonitor != nil {
		stopMonitor()
	}
	if stop != nil {
		stop()
		<-done
	}
	e.stats.Detach()

	errs := []error{e.SaveSnapshot()}
	errs = append(errs, e.tasks.Close(), e.responses.Close())
	if e.db != nil {
		errs = append(errs, e.db.Close())
	}
	if e.dirLock != nil {
		errs = append(errs, e.dirLock.Release())
	}
	return errors.Join(errs...)
}

func (e *Engine) closeBackend() {
	if e.db != nil {
		_ = e.db.Close()
	}
	if e.dirLock != nil {
		_ = e.dirLock.Release()
	}
}

// Reconfigure applies the hot-reloadable tunables from cfg: matcher
// weights, assignment limits, profile smoothing, evaluator settings and
// the sweep interval. The evaluator pool restarts at evaluator.workers and
// is resized again after the next sweep. Store, server and scaling
// cooldown settings need a restart.
func (e *Engine) Reconfigure(cfg *config.Config) {
	e.matcher.SetSettings(matcherSettings(cfg))
	e.profiles.SetSmoothing(profileSmoothing(cfg))
	e.evaluator.SetSettings(evaluatorSettings(cfg))
	e.policy.SetBounds(workerBounds(cfg))
	e.monitor.SetCurrentWorkers(cfg.Evaluator.Workers)
	e.runner.SetInterval(cfg.Evaluator.Interval)
	e.logger.WithComponent("engine").Info("tunables reloaded",
		"ttl", cfg.Assignment.TTL,
		"max_attempts", cfg.Assignment.MaxAttempts,
		"sweep_interval", cfg.Evaluator.Interval,
	)
}
