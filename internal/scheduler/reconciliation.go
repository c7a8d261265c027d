package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mrlokans/librarian/internal/entities"
	"github.com/mrlokans/librarian/internal/reconcile"
)

// ErrAlreadyRunning is returned by RunNow while this process is reconciling.
var ErrAlreadyRunning = errors.New("reconciliation already in progress")

// Runner executes one reconciliation batch.
type Runner interface {
	Run(ctx context.Context, trigger entities.RunTrigger) (*reconcile.Report, error)
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ReconciliationScheduler fires the reconciliation batch on a cron schedule
type ReconciliationScheduler struct {
	runner   Runner
	schedule string
	timeout  time.Duration

	cron          *cron.Cron
	entryID       cron.EntryID
	mu            sync.RWMutex
	isRunning     bool
	isReconciling bool
	cancelFunc    context.CancelFunc
	runCtx        context.Context
	stopCh        chan struct{}
	baseCtx       context.Context
	lastReport    *reconcile.Report
}

// NewReconciliationScheduler creates a scheduler. timeout bounds a single
// scheduled batch; zero means no limit.
func NewReconciliationScheduler(runner Runner, schedule string, timeout time.Duration) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		runner:   runner,
		schedule: schedule,
		timeout:  timeout,
		cron:     cron.New(cron.WithParser(parser)),
	}
}

// Start registers the batch job and starts the cron loop. Cancelling ctx
// stops the scheduler.
func (s *ReconciliationScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	if err := ValidateCronSchedule(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", s.schedule, err)
	}

	entryID, err := s.cron.AddFunc(s.schedule, func() {
		s.runScheduled()
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reconciliation job: %w", err)
	}
	s.entryID = entryID

	s.baseCtx = ctx
	s.runCtx, s.cancelFunc = context.WithCancel(ctx)
	stopCh := make(chan struct{})
	s.stopCh = stopCh

	s.cron.Start()
	s.isRunning = true

	nextRun, _ := GetNextRunTime(s.schedule)
	log.Printf("Reconciliation scheduler: started with schedule '%s' (%s). Next run: %v",
		s.schedule, GetCronDescription(s.schedule), nextRun)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()

	return nil
}

// Stop removes the job and waits for an in-flight scheduled batch to finish.
func (s *ReconciliationScheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.cron.Remove(s.entryID)
	cancel := s.cancelFunc
	s.cancelFunc = nil
	close(s.stopCh)
	s.mu.Unlock()

	// The job itself takes s.mu, so wait without holding it.
	done := s.cron.Stop()
	<-done.Done()
	if cancel != nil {
		cancel()
	}

	log.Printf("Reconciliation scheduler: stopped")
}

// Reschedule switches to a new schedule, restarting the loop if it was active.
func (s *ReconciliationScheduler) Reschedule(schedule string) error {
	if err := ValidateCronSchedule(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", schedule, err)
	}

	s.mu.RLock()
	wasRunning := s.isRunning
	ctx := s.baseCtx
	s.mu.RUnlock()

	if wasRunning {
		s.Stop()
	}

	s.mu.Lock()
	s.schedule = schedule
	s.cron = cron.New(cron.WithParser(parser))
	s.mu.Unlock()

	if !wasRunning {
		return nil
	}
	return s.Start(ctx)
}

// RunNow runs a manual batch synchronously and returns its report.
func (s *ReconciliationScheduler) RunNow(ctx context.Context) (*reconcile.Report, error) {
	if !s.begin() {
		return nil, ErrAlreadyRunning
	}

	report, err := s.runner.Run(ctx, entities.RunTriggerManual)
	s.end(report)
	return report, err
}

// IsRunning returns whether the cron loop is active
func (s *ReconciliationScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// IsReconciling returns whether a batch started by this scheduler is in flight
func (s *ReconciliationScheduler) IsReconciling() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isReconciling
}

// Schedule returns the active cron expression.
func (s *ReconciliationScheduler) Schedule() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule
}

// LastReport returns the report of the most recent batch run by this process.
func (s *ReconciliationScheduler) LastReport() *reconcile.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReport
}

// GetNextRunTime returns when the next scheduled batch will fire
func (s *ReconciliationScheduler) GetNextRunTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return nil
	}

	for _, entry := range s.cron.Entries() {
		if entry.ID == s.entryID {
			t := entry.Next
			return &t
		}
	}
	return nil
}

func (s *ReconciliationScheduler) runScheduled() {
	if !s.begin() {
		log.Printf("Reconciliation scheduler: tick skipped (already reconciling)")
		return
	}

	s.mu.RLock()
	ctx := s.runCtx
	s.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	report, err := s.runner.Run(ctx, entities.RunTriggerSchedule)
	if err != nil {
		log.Printf("Reconciliation scheduler: run aborted: %v", err)
	}
	s.end(report)
}

func (s *ReconciliationScheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isReconciling {
		return false
	}
	s.isReconciling = true
	return true
}

func (s *ReconciliationScheduler) end(report *reconcile.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if report != nil {
		s.lastReport = report
	}
	s.isReconciling = false
}

// ValidateCronSchedule checks a standard five-field cron expression
func ValidateCronSchedule(schedule string) error {
	_, err := parser.Parse(schedule)
	return err
}

// GetCronDescription returns a human-readable description of a cron schedule
func GetCronDescription(schedule string) string {
	switch schedule {
	case "0 * * * *":
		return "Every hour at :00"
	case "*/15 * * * *":
		return "Every 15 minutes"
	case "*/30 * * * *":
		return "Every 30 minutes"
	case "0 */6 * * *":
		return "Every 6 hours"
	case "0 0 * * *":
		return "Daily at midnight"
	case "0 0 * * 0":
		return "Weekly on Sunday at midnight"
	default:
		return "Custom schedule: " + schedule
	}
}

// GetNextRunTime calculates the next fire time of schedule from now
func GetNextRunTime(schedule string) (*time.Time, error) {
	sched, err := parser.Parse(schedule)
	if err != nil {
		return nil, err
	}
	next := sched.Next(time.Now())
	return &next, nil
}
