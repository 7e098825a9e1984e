/*
scheduler.go - Automated accrual and carry-forward scheduler

PURPOSE:
  Periodically runs the cycle jobs for every active leave type: carry-forward
  for rows whose reset date has come, then accrual. Both engine operations
  are idempotent per cycle (yearly), month (monthly) or quarter (per_term),
  so a tick only asks the engine and never tracks what it already did.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Carry-forward before accrual, so a new cycle is credited after the
    old one is closed
  - Keeps the last summaries in memory for the admin UI

CONFIGURATION:
  - Interval: How often to check (scheduler.interval, default 1 hour)
  - Enabled:  Whether scheduler is active (scheduler.enabled, default true)

USAGE:
  scheduler := NewScheduler(engine, store, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunAccrual, RunCarryForward (manual runs)
  - leave/accrual.go: AccrualEngine
*/
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

const maxRunHistory = 50

// StepSummary is the outcome of one job for one leave type.
type StepSummary struct {
	LeaveTypeID leave.LeaveTypeID `json:"leave_type_id"`
	Job         string            `json:"job"` // carry_forward, accrual
	Applied     int               `json:"applied"`
	Skipped     int               `json:"skipped"`
	Failed      int               `json:"failed"`
	Error       string            `json:"error,omitempty"`
}

// RunSummary is one scheduler tick.
type RunSummary struct {
	AsOf        generic.TimePoint `json:"as_of"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Steps       []StepSummary     `json:"steps"`
}

// Scheduler handles automated accrual and carry-forward.
type Scheduler struct {
	Engine   *leave.Engine
	Catalog  leave.CatalogStore
	Interval time.Duration
	Enabled  bool

	log *zap.Logger
	now func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex

	historyMu sync.Mutex
	history   []RunSummary
}

// NewScheduler creates a new scheduler.
func NewScheduler(engine *leave.Engine, catalog leave.CatalogStore, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		Engine:   engine,
		Catalog:  catalog,
		Interval: time.Hour,
		Enabled:  true,
		log:      log.Named("scheduler"),
		now:      time.Now,
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)

	go s.run(ctx, s.ticker.C, s.stop)

	s.log.Info("started", zap.Duration("interval", s.Interval))
}

// Stop stops the scheduler and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.cancel()
	s.wg.Wait()
	s.ticker = nil
	s.log.Info("stopped")
}

func (s *Scheduler) run(ctx context.Context, tick <-chan time.Time, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(ctx)

	for {
		select {
		case <-tick:
			s.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one tick synchronously and records its summary.
func (s *Scheduler) RunNow(ctx context.Context) RunSummary {
	summary := RunSummary{AsOf: generic.FromTime(s.now()), StartedAt: s.now()}

	types, err := s.Catalog.ListLeaveTypes(ctx)
	if err != nil {
		s.log.Error("list leave types", zap.Error(err))
		return summary
	}

	for _, lt := range types {
		if !lt.Active {
			continue
		}
		if _, err := s.Catalog.GetActivePolicy(ctx, lt.ID); err != nil {
			if !leave.IsNotFound(err) {
				s.log.Error("load policy", zap.String("leave_type_id", string(lt.ID)), zap.Error(err))
			}
			continue
		}

		carry, err := s.Engine.Accruals.RunCarryForward(ctx, leave.CarryForwardRequest{
			LeaveTypeID: lt.ID, AsOf: summary.AsOf,
		})
		summary.Steps = append(summary.Steps, s.step(lt.ID, "carry_forward", carry, err))

		accrual, err := s.Engine.Accruals.AccrueAll(ctx, leave.AccrualRequest{
			LeaveTypeID: lt.ID, AsOf: summary.AsOf,
		})
		summary.Steps = append(summary.Steps, s.step(lt.ID, "accrual", accrual, err))
	}

	summary.CompletedAt = s.now()
	s.record(summary)
	return summary
}

func (s *Scheduler) step(lt leave.LeaveTypeID, job string, res *leave.BatchResult, err error) StepSummary {
	step := StepSummary{LeaveTypeID: lt, Job: job}
	if err != nil {
		step.Error = err.Error()
		s.log.Error("job failed", zap.String("job", job), zap.String("leave_type_id", string(lt)), zap.Error(err))
		return step
	}
	step.Applied, step.Skipped, step.Failed = res.Applied, res.Skipped, res.Failed

	fields := []zap.Field{
		zap.String("job", job),
		zap.String("leave_type_id", string(lt)),
		zap.Int("applied", res.Applied),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	}
	if res.Failed > 0 {
		s.log.Warn("job completed with failures", fields...)
	} else if res.Applied > 0 {
		s.log.Info("job completed", fields...)
	}
	return step
}

func (s *Scheduler) record(summary RunSummary) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	s.history = append(s.history, summary)
	if len(s.history) > maxRunHistory {
		s.history = s.history[len(s.history)-maxRunHistory:]
	}
}

// Runs returns the recorded summaries, newest last.
func (s *Scheduler) Runs() []RunSummary {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	out := make([]RunSummary, len(s.history))
	copy(out, s.history)
	return out
}

// GetNextRunTime returns when the next scheduled check will occur.
func (s *Scheduler) GetNextRunTime() time.Time {
	return s.now().Add(s.Interval)
}

// ListRuns serves the run history.
func (s *Scheduler) ListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":  s.Enabled,
		"interval": s.Interval.String(),
		"next_run": s.GetNextRunTime(),
		"runs":     s.Runs(),
	})
}

// Trigger runs a tick now and returns its summary.
func (s *Scheduler) Trigger(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.RunNow(r.Context()))
}
