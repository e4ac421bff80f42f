package evaluator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/hotlabel/internal/event"
	"github.com/Iron-Ham/hotlabel/internal/logging"
)

// Runner drives an Evaluator on a ticker. When a bus is attached it also
// sweeps early once a full batch of responses has been submitted since
// the last sweep.
type Runner struct {
	ev     *Evaluator
	bus    *event.Bus
	logger *logging.Logger

	interval  atomic.Int64
	submitted atomic.Int64
	kick      chan struct{}
	reset     chan struct{}

	subscriptionID string
	stopFunc       context.CancelFunc
	stopped        chan struct{}
}

// NewRunner creates a Runner sweeping every interval. A zero or negative
// interval disables the ticker; sweeps then only happen on a full batch.
func NewRunner(ev *Evaluator, interval time.Duration, bus *event.Bus, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	r := &Runner{
		ev:      ev,
		bus:     bus,
		logger:  logger.WithComponent("evaluator-runner"),
		kick:    make(chan struct{}, 1),
		reset:   make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	r.interval.Store(int64(interval))
	return r
}

// Start launches the sweep loop. Call Stop to end it.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.stopFunc = cancel

	if r.bus != nil {
		r.subscriptionID = r.bus.Subscribe(event.TypeResponseSubmitted, r.handleSubmitted)
	}
	go r.loop(ctx)
}

// Stop ends the loop and waits for an in-progress sweep to finish. It is
// safe to call Stop even if Start was never called.
func (r *Runner) Stop() {
	if r.bus != nil && r.subscriptionID != "" {
		r.bus.Unsubscribe(r.subscriptionID)
		r.subscriptionID = ""
	}
	if r.stopFunc != nil {
		r.stopFunc()
		<-r.stopped
		r.stopFunc = nil
	}
}

// SetInterval changes the sweep interval of a running loop.
func (r *Runner) SetInterval(d time.Duration) {
	if time.Duration(r.interval.Swap(int64(d))) == d {
		return
	}
	select {
	case r.reset <- struct{}{}:
	default:
	}
}

func (r *Runner) handleSubmitted(event.Event) {
	if r.submitted.Add(1) < int64(r.ev.Settings().BatchSize) {
		return
	}
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.stopped)

	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	arm := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
		if d := time.Duration(r.interval.Load()); d > 0 {
			ticker = time.NewTicker(d)
			tick = ticker.C
		}
	}
	arm()
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.reset:
			arm()
		case <-tick:
			r.sweep(ctx)
		case <-r.kick:
			r.sweep(ctx)
		}
	}
}

func (r *Runner) sweep(ctx context.Context) {
	r.submitted.Store(0)
	if _, err := r.ev.Sweep(ctx); err != nil && ctx.Err() == nil {
		r.logger.Warn("sweep failed", "error", err)
	}
}
