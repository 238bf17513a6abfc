// Package pool implements the concurrency governor that keeps the
// number of simultaneously running tasks close to a target the load
// monitor and task supply allow, nudging the target toward throughput
// over time. Grounded on the teacher's internal/engine/scheduler.go
// worker-pool shape (ticker-driven control loop, pause/resume signalling,
// atomic-free single-owner state), generalised from a fixed-size worker
// pool to an autoscaling one per the core spec's §4.4.
//
// The control loop below is the single owner of desired/current
// concurrency: every mutation happens inside Run's select loop, so
// unlike scheduler.go (which needs atomics and mutexes because several
// goroutines touch shared counters directly) this package needs none —
// external callers only ever post events onto a channel for the loop to
// act on.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// LoadMonitor is the subset of loadmonitor.Monitor the pool depends on.
type LoadMonitor interface {
	IsCurrentlyIdle() bool
	IsHistoricallyIdle() bool
}

// MetricsSink receives the pool's desired/current concurrency on every
// change. Optional; a nil sink is never consulted.
type MetricsSink interface {
	SetPoolConcurrency(desired, current int)
}

// RunTaskFunc runs a single unit of work. A non-nil error is fatal: the
// pool aborts the run.
type RunTaskFunc func(ctx context.Context) error

// IsTaskReadyFunc reports whether a new task can be started right now.
type IsTaskReadyFunc func(ctx context.Context) (bool, error)

// IsFinishedFunc reports whether there is no more work and the pool can
// stop.
type IsFinishedFunc func(ctx context.Context) (bool, error)

// ErrPauseTimeout is returned by Pause when current concurrency does
// not drain to zero before the deadline.
var ErrPauseTimeout = errors.New("pool: pause timed out waiting for running tasks to drain")

// Config tunes the autoscaling behaviour. Zero-value fields fall back
// to the core spec's defaults.
type Config struct {
	MinConcurrency int
	MaxConcurrency int

	DesiredConcurrencyRatio float64
	ScaleUpStepRatio        float64
	ScaleDownStepRatio      float64

	MaybeRunInterval  time.Duration
	AutoscaleInterval time.Duration
	LoggingInterval   time.Duration

	// Metrics, when set, is fed the pool's desired/current concurrency
	// on every change.
	Metrics MetricsSink
}

func (c Config) withDefaults() Config {
	if c.MinConcurrency <= 0 {
		c.MinConcurrency = 1
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 1000
	}
	if c.MaxConcurrency < c.MinConcurrency {
		c.MaxConcurrency = c.MinConcurrency
	}
	if c.DesiredConcurrencyRatio <= 0 {
		c.DesiredConcurrencyRatio = 0.90
	}
	if c.ScaleUpStepRatio <= 0 {
		c.ScaleUpStepRatio = 0.05
	}
	if c.ScaleDownStepRatio <= 0 {
		c.ScaleDownStepRatio = 0.05
	}
	if c.MaybeRunInterval <= 0 {
		c.MaybeRunInterval = 500 * time.Millisecond
	}
	if c.AutoscaleInterval <= 0 {
		c.AutoscaleInterval = 10 * time.Second
	}
	if c.LoggingInterval <= 0 {
		c.LoggingInterval = 60 * time.Second
	}
	return c
}

type readyResult struct {
	ready bool
	err   error
}

type finishResult struct {
	done bool
	err  error
}

type cmdKind int

const (
	cmdPause cmdKind = iota
	cmdResume
	cmdAbort
)

type command struct {
	kind     cmdKind
	deadline time.Time
	resp     chan error
}

// Pool is an autoscaled pool of concurrently running tasks.
type Pool struct {
	cfg         Config
	runTask     RunTaskFunc
	isTaskReady IsTaskReadyFunc
	isFinished  IsFinishedFunc
	monitor     LoadMonitor
	metrics     MetricsSink
	logger      *slog.Logger

	maybeRunCh  chan struct{}
	taskDoneCh  chan error
	taskReadyCh chan readyResult
	finishCh    chan finishResult
	commandCh   chan command

	wg sync.WaitGroup

	// loop-owned state: touched only inside Run's goroutine.
	desired           int
	current           int
	paused            bool
	aborted           bool
	taskReadyInFlight bool
	finishInFlight    bool
	pendingPause      *command
}

// New constructs a Pool. runTask, isTaskReady and isFinished are the
// collaborator closures the crawler wires in; monitor may be nil, in
// which case the pool always behaves as if the system is idle.
func New(cfg Config, runTask RunTaskFunc, isTaskReady IsTaskReadyFunc, isFinished IsFinishedFunc, monitor LoadMonitor, logger *slog.Logger) *Pool {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if monitor == nil {
		monitor = alwaysIdleMonitor{}
	}
	return &Pool{
		cfg:         cfg,
		runTask:     runTask,
		isTaskReady: isTaskReady,
		isFinished:  isFinished,
		monitor:     monitor,
		metrics:     cfg.Metrics,
		logger:      logger.With("component", "pool"),
		desired:     cfg.MinConcurrency,
		maybeRunCh:  make(chan struct{}, 1),
		taskDoneCh:  make(chan error, cfg.MaxConcurrency),
		taskReadyCh: make(chan readyResult, 1),
		finishCh:    make(chan finishResult, 1),
		commandCh:   make(chan command),
	}
}

type alwaysIdleMonitor struct{}

func (alwaysIdleMonitor) IsCurrentlyIdle() bool    { return true }
func (alwaysIdleMonitor) IsHistoricallyIdle() bool { return true }

// Run drives the pool's control loop until the work is finished, a
// task or collaborator query fails fatally, the pool is aborted, or ctx
// is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	maybeRunTicker := time.NewTicker(p.cfg.MaybeRunInterval)
	defer maybeRunTicker.Stop()
	autoscaleTicker := time.NewTicker(p.cfg.AutoscaleInterval)
	defer autoscaleTicker.Stop()
	loggingTicker := time.NewTicker(p.cfg.LoggingInterval)
	defer loggingTicker.Stop()

	var pauseTimer *time.Timer
	var pauseTimerCh <-chan time.Time

	stopPauseTimer := func() {
		if pauseTimer != nil {
			pauseTimer.Stop()
			pauseTimer = nil
			pauseTimerCh = nil
		}
	}
	defer stopPauseTimer()

	p.scheduleMaybeRun()
	p.reportMetrics()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-p.taskDoneCh:
			p.current--
			p.reportMetrics()
			p.checkPendingPause(stopPauseTimer)
			if err != nil {
				return fmt.Errorf("pool: task failed: %w", err)
			}
			p.scheduleMaybeRun()

		case res := <-p.taskReadyCh:
			p.taskReadyInFlight = false
			if res.err != nil {
				return fmt.Errorf("pool: is-task-ready query failed: %w", res.err)
			}
			if !res.ready {
				p.maybeFinish(ctx)
				continue
			}
			p.current++
			p.reportMetrics()
			p.wg.Add(1)
			go p.launchTask(ctx)
			p.scheduleMaybeRun()

		case res := <-p.finishCh:
			p.finishInFlight = false
			if res.err != nil {
				return fmt.Errorf("pool: is-finished query failed: %w", res.err)
			}
			if res.done {
				return nil
			}

		case cmd := <-p.commandCh:
			switch cmd.kind {
			case cmdPause:
				p.paused = true
				if p.current == 0 {
					cmd.resp <- nil
					continue
				}
				p.pendingPause = &cmd
				stopPauseTimer()
				pauseTimer = time.NewTimer(time.Until(cmd.deadline))
				pauseTimerCh = pauseTimer.C
			case cmdResume:
				p.paused = false
				p.scheduleMaybeRun()
			case cmdAbort:
				p.aborted = true
				// Abort is advisory: resolve immediately, leave any
				// in-flight tasks to finish or fail on their own.
				return nil
			}

		case <-pauseTimerCh:
			if p.pendingPause != nil {
				p.pendingPause.resp <- ErrPauseTimeout
				p.pendingPause = nil
			}
			stopPauseTimer()

		case <-p.maybeRunCh:
			p.maybeRun(ctx)

		case <-maybeRunTicker.C:
			p.scheduleMaybeRun()

		case <-autoscaleTicker.C:
			p.autoscale()

		case <-loggingTicker.C:
			p.logger.Info("pool status", "current_concurrency", p.current, "desired_concurrency", p.desired)
		}
	}
}

// reportMetrics pushes the current desired/current concurrency to the
// configured sink, if any. Called only from the control loop, so no
// locking is needed.
func (p *Pool) reportMetrics() {
	if p.metrics != nil {
		p.metrics.SetPoolConcurrency(p.desired, p.current)
	}
}

func (p *Pool) checkPendingPause(stop func()) {
	if p.pendingPause != nil && p.current == 0 {
		p.pendingPause.resp <- nil
		p.pendingPause = nil
		stop()
	}
}

// scheduleMaybeRun posts a coalesced maybe-run signal; redundant
// signals while one is already pending are dropped.
func (p *Pool) scheduleMaybeRun() {
	select {
	case p.maybeRunCh <- struct{}{}:
	default:
	}
}

// maybeRun declines to start a task for any of the reasons the core
// spec lists, otherwise dispatches an is-task-ready query asynchronously
// so the control loop is never blocked waiting on it.
func (p *Pool) maybeRun(ctx context.Context) {
	if p.paused || p.aborted {
		return
	}
	if p.taskReadyInFlight {
		return
	}
	if p.current >= p.desired {
		return
	}
	if !p.monitor.IsCurrentlyIdle() && p.current >= p.cfg.MinConcurrency {
		return
	}

	p.taskReadyInFlight = true
	go func() {
		ready, err := p.isTaskReady(ctx)
		p.taskReadyCh <- readyResult{ready: ready, err: err}
	}()
}

// maybeFinish checks for completion once no task is running and no
// finish query is already in flight.
func (p *Pool) maybeFinish(ctx context.Context) {
	if p.current != 0 || p.finishInFlight {
		return
	}
	p.finishInFlight = true
	go func() {
		done, err := p.isFinished(ctx)
		p.finishCh <- finishResult{done: done, err: err}
	}()
}

func (p *Pool) launchTask(ctx context.Context) {
	defer p.wg.Done()
	err := p.runTask(ctx)
	p.taskDoneCh <- err
}

// autoscale nudges desired concurrency toward the system's actual
// headroom: up while historically idle and already saturated near the
// current desired level, down while historically overloaded.
func (p *Pool) autoscale() {
	if p.monitor.IsHistoricallyIdle() {
		floor := int(math.Floor(float64(p.desired) * p.cfg.DesiredConcurrencyRatio))
		if p.desired < p.cfg.MaxConcurrency && p.current >= floor {
			step := int(math.Ceil(float64(p.desired) * p.cfg.ScaleUpStepRatio))
			if step < 1 {
				step = 1
			}
			p.desired += step
			if p.desired > p.cfg.MaxConcurrency {
				p.desired = p.cfg.MaxConcurrency
			}
		}
	} else if p.desired > p.cfg.MinConcurrency {
		step := int(math.Ceil(float64(p.desired) * p.cfg.ScaleDownStepRatio))
		if step < 1 {
			step = 1
		}
		p.desired -= step
		if p.desired < p.cfg.MinConcurrency {
			p.desired = p.cfg.MinConcurrency
		}
	}
	p.reportMetrics()
	p.scheduleMaybeRun()
}

// Pause asks the pool to stop starting new tasks and blocks until
// current concurrency drains to zero or timeout elapses.
func (p *Pool) Pause(ctx context.Context, timeout time.Duration) error {
	resp := make(chan error, 1)
	cmd := command{kind: cmdPause, deadline: time.Now().Add(timeout), resp: resp}
	select {
	case p.commandCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume clears the paused flag, letting the pool start tasks again.
func (p *Pool) Resume(ctx context.Context) {
	select {
	case p.commandCh <- command{kind: cmdResume}:
	case <-ctx.Done():
	}
}

// Abort resolves the pool's run immediately without waiting for
// in-flight tasks. It is advisory — running tasks complete or fail on
// their own.
func (p *Pool) Abort(ctx context.Context) {
	select {
	case p.commandCh <- command{kind: cmdAbort}:
	case <-ctx.Done():
	}
}
