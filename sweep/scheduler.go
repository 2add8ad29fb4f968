/*
scheduler.go - Periodic lifecycle runner

PURPOSE:
  Runs the archive sweep then the unarchive sweep on a fixed interval.
  The first run happens immediately on Start.

DESIGN:
  - One background goroutine driven by a ticker
  - Each tick gets its own context bounded by Timeout
  - A tick never overlaps another: RunNow and the ticker share a mutex
  - The last results are kept for the admin API

USAGE:
  sched := sweep.NewScheduler(sweeper, time.Hour, 5*time.Minute)
  sched.Start()
  defer sched.Stop()

SEE ALSO:
  - archive.go, unarchive.go: the sweeps
  - api/handlers.go: manual sweep endpoints
*/
package sweep

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultInterval = time.Hour
	DefaultTimeout  = 5 * time.Minute
)

// TickResult is the outcome of one scheduler run.
type TickResult struct {
	StartedAt time.Time `json:"started_at"`
	Archive   Result    `json:"archive"`
	Unarchive Result    `json:"unarchive"`
	Err       string    `json:"error,omitempty"`
}

type Scheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	timeout  time.Duration

	runMu sync.Mutex
	last  *TickResult

	mu      sync.Mutex
	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewScheduler applies DefaultInterval and DefaultTimeout to zero values.
func NewScheduler(sweeper *Sweeper, interval, timeout time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Scheduler{sweeper: sweeper, interval: interval, timeout: timeout}
}

// Start launches the loop. Calling Start twice is a no-op.
func (sc *Scheduler) Start() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.running {
		return
	}
	sc.ticker = time.NewTicker(sc.interval)
	sc.stop = make(chan struct{})
	sc.running = true
	sc.wg.Add(1)
	go sc.run(sc.ticker, sc.stop)

	zap.L().Info("Lifecycle scheduler started",
		zap.Duration("interval", sc.interval),
		zap.Duration("timeout", sc.timeout))
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (sc *Scheduler) Stop() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.running {
		return
	}
	sc.ticker.Stop()
	close(sc.stop)
	sc.wg.Wait()
	sc.running = false
	zap.L().Info("Lifecycle scheduler stopped")
}

func (sc *Scheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer sc.wg.Done()

	sc.tick(stop)
	for {
		select {
		case <-ticker.C:
			sc.tick(stop)
		case <-stop:
			return
		}
	}
}

func (sc *Scheduler) tick(stop <-chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), sc.timeout)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	sc.RunNow(ctx)
}

// RunNow runs both sweeps once, archive first.
func (sc *Scheduler) RunNow(ctx context.Context) TickResult {
	sc.runMu.Lock()
	defer sc.runMu.Unlock()

	out := TickResult{StartedAt: sc.sweeper.clock.Now()}
	var err error
	if out.Archive, err = sc.sweeper.RunArchiveSweep(ctx); err != nil {
		zap.L().Error("Archive sweep aborted", zap.Error(err))
		out.Err = err.Error()
	}
	if out.Unarchive, err = sc.sweeper.RunUnarchiveSweep(ctx); err != nil {
		zap.L().Error("Unarchive sweep aborted", zap.Error(err))
		if out.Err == "" {
			out.Err = err.Error()
		}
	}
	sc.last = &out
	return out
}

// Last returns the most recent tick, or nil before the first one.
func (sc *Scheduler) Last() *TickResult {
	sc.runMu.Lock()
	defer sc.runMu.Unlock()
	if sc.last == nil {
		return nil
	}
	cp := *sc.last
	return &cp
}

// Interval is the time between two ticks.
func (sc *Scheduler) Interval() time.Duration { return sc.interval }
