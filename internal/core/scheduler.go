package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"gitdelayed/internal/logging"
)

const (
	DefaultPollInterval = time.Minute
	DefaultExecTimeout  = 5 * time.Minute
)

// Store abstracts the persistence layer used by the scheduler.
type Store interface {
	ListOperations(ctx context.Context) ([]*Operation, []CorruptRecord, error)
	GetOperation(ctx context.Context, id string) (*Operation, error)
	ClaimOperation(ctx context.Context, id string, now time.Time) (*Operation, error)
	UpdateOperation(ctx context.Context, op *Operation) error
	RecoverInterrupted(ctx context.Context, now time.Time) (int, error)

	InsertExecution(ctx context.Context, exec *Execution) error
	PruneExecutions(ctx context.Context, operationID string) error
}

// Executor runs an operation against its repository. It returns the
// combined command output. Failures are ErrNotARepository (permanent) or
// anything else (transient, retried).
type Executor interface {
	Execute(ctx context.Context, op *Operation) (string, error)
}

// Notifier delivers a short message about a finished operation.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// Recorder receives scheduler measurements.
type Recorder interface {
	ObserveExecution(kind OperationKind, outcome ExecutionOutcome, elapsed time.Duration)
	ObserveTick(report TickReport)
}

// TickReport summarizes one pass over the store.
type TickReport struct {
	Due       int
	Succeeded int
	Retried   int
	Abandoned int
	Skipped   int
	Corrupt   int
	Deferred  int
}

// SchedulerOptions carries the tunables of a Scheduler. Zero values select defaults.
type SchedulerOptions struct {
	Interval    time.Duration
	ExecTimeout time.Duration
	Retry       RetryPolicy
	Clock       clockwork.Clock
	Notifier    Notifier
	Recorder    Recorder
}

// Scheduler polls the store on a fixed interval and executes due operations
// one at a time.
type Scheduler struct {
	store    Store
	executor Executor
	logger   *slog.Logger

	clock       clockwork.Clock
	interval    time.Duration
	execTimeout time.Duration
	retry       RetryPolicy
	notifier    Notifier
	recorder    Recorder

	cron     *cron.Cron
	tickMu   sync.Mutex
	ticks    sync.WaitGroup
	stopping atomic.Bool

	ctx context.Context
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(store Store, executor Executor, logger *slog.Logger, opts SchedulerOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = DefaultExecTimeout
	}
	if opts.Retry.Delay <= 0 {
		opts.Retry = NewRetryPolicy(opts.Retry.Delay, opts.Retry.MaxAttempts)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	cronLogger := logging.CronLogger(logger)
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	return &Scheduler{
		store:       store,
		executor:    executor,
		logger:      logger,
		clock:       opts.Clock,
		interval:    opts.Interval,
		execTimeout: opts.ExecTimeout,
		retry:       opts.Retry,
		notifier:    opts.Notifier,
		recorder:    opts.Recorder,
		cron:        c,
	}
}

// Start recovers interrupted work, runs one tick immediately and then one
// every interval. ctx bounds store access and signals cancellation between
// operations.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.stopping.Store(false)
	if n, err := s.store.RecoverInterrupted(ctx, s.clock.Now().UTC()); err != nil {
		s.logger.Error("recover interrupted operations", "err", err)
	} else if n > 0 {
		s.logger.Warn("re-queued operations interrupted mid-execution", "count", n)
	}
	s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(s.runTick))
	s.cron.Start()
	s.ticks.Add(1)
	go func() {
		defer s.ticks.Done()
		s.runTick()
	}()
	s.logger.Info("scheduler started", "interval", s.interval, "retry_delay", s.retry.Delay, "max_attempts", s.retry.MaxAttempts)
}

// Stop prevents new operations from starting. The returned context is done
// once the in-flight operation, if any, has finished.
func (s *Scheduler) Stop() context.Context {
	s.stopping.Store(true)
	cronDone := s.cron.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronDone.Done()
		s.ticks.Wait()
		cancel()
	}()
	return ctx
}

// Tick runs one polling pass synchronously.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.tick(ctx)
}

func (s *Scheduler) runTick() {
	if !s.tickMu.TryLock() {
		s.logger.Debug("previous tick still running, skipping")
		return
	}
	defer s.tickMu.Unlock()
	s.tick(s.ctxOrBackground())
}

func (s *Scheduler) tick(ctx context.Context) TickReport {
	var report TickReport
	now := s.clock.Now().UTC()

	ops, corrupt, err := s.store.ListOperations(ctx)
	if err != nil {
		s.logger.Error("list operations", "err", err)
		return report
	}
	for _, rec := range corrupt {
		s.logger.Warn("skipping corrupt operation record", "op_id", rec.ID, "err", rec.Err)
	}
	report.Corrupt = len(corrupt)

	var due []*Operation
	for _, op := range ops {
		if op.IsDue(now) {
			due = append(due, op)
		}
	}
	report.Due = len(due)

	for i, op := range due {
		if s.stopRequested(ctx) {
			report.Deferred = len(due) - i
			s.logger.Info("stop requested, deferring remaining operations", "remaining", report.Deferred)
			break
		}
		outcome, ok := s.process(ctx, op)
		if !ok {
			report.Skipped++
			continue
		}
		switch outcome {
		case OutcomeSucceeded:
			report.Succeeded++
		case OutcomeAbandoned:
			report.Abandoned++
		default:
			report.Retried++
		}
	}

	if report.Due > 0 || report.Corrupt > 0 {
		s.logger.Info("tick complete",
			"due", report.Due,
			"succeeded", report.Succeeded,
			"retried", report.Retried,
			"abandoned", report.Abandoned,
			"skipped", report.Skipped,
			"corrupt", report.Corrupt)
	}
	s.recorder.ObserveTick(report)
	return report
}

func (s *Scheduler) process(ctx context.Context, op *Operation) (ExecutionOutcome, bool) {
	logger := s.logger.With("op_id", op.ID, "kind", op.Kind, "repo", op.RepositoryPath)
	// Results are persisted even when a stop arrives mid-execution.
	persistCtx := context.WithoutCancel(ctx)

	startedAt := s.clock.Now().UTC()
	claimed, err := s.store.ClaimOperation(ctx, op.ID, startedAt)
	if err != nil {
		if errors.Is(err, ErrNotClaimable) {
			logger.Info("operation changed before execution, skipping")
		} else {
			logger.Error("claim operation", "err", err)
		}
		return "", false
	}

	logger.Info("executing operation", "attempt", claimed.Attempts+1)
	execCtx, cancel := context.WithTimeout(persistCtx, s.execTimeout)
	output, execErr := s.executor.Execute(execCtx, claimed)
	cancel()
	endedAt := s.clock.Now().UTC()

	attempt := claimed.Attempts + 1
	outcome := s.applyResult(claimed, execErr, endedAt)

	if err := s.store.UpdateOperation(persistCtx, claimed); err != nil {
		logger.Error("persist operation result", "status", claimed.Status, "err", err)
	}

	exec := &Execution{
		OperationID: claimed.ID,
		Attempt:     attempt,
		Outcome:     outcome,
		Output:      output,
		Error:       claimed.LastError,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
	}
	if outcome == OutcomeSucceeded {
		exec.Error = nil
	}
	if err := s.store.InsertExecution(persistCtx, exec); err != nil {
		logger.Warn("record execution", "err", err)
	}
	if err := s.store.PruneExecutions(persistCtx, claimed.ID); err != nil {
		logger.Warn("prune execution history", "err", err)
	}
	s.recorder.ObserveExecution(claimed.Kind, outcome, endedAt.Sub(startedAt))

	switch outcome {
	case OutcomeSucceeded:
		logger.Info("operation succeeded")
		s.notify(persistCtx, logger, claimed, "succeeded")
	case OutcomeAbandoned:
		logger.Error("operation abandoned", "attempts", claimed.Attempts, "err", execErr)
		s.notify(persistCtx, logger, claimed, "abandoned")
	default:
		logger.Warn("operation failed, will retry", "attempts", claimed.Attempts, "next_retry_at", claimed.NextRetryAt, "err", execErr)
	}
	return outcome, true
}

// applyResult moves op out of executing according to the execution error.
func (s *Scheduler) applyResult(op *Operation, execErr error, now time.Time) ExecutionOutcome {
	op.UpdatedAt = now
	if execErr == nil {
		op.Status = StatusSucceeded
		op.LastError = nil
		op.NextRetryAt = nil
		return OutcomeSucceeded
	}

	op.Attempts++
	msg := execErr.Error()
	op.LastError = &msg
	op.NextRetryAt = nil

	if errors.Is(execErr, ErrNotARepository) {
		op.Status = StatusAbandoned
		return OutcomeAbandoned
	}
	next, ok := s.retry.Next(now, op.Attempts)
	if !ok {
		op.Status = StatusAbandoned
		return OutcomeAbandoned
	}
	op.Status = StatusRetrying
	op.NextRetryAt = &next
	return OutcomeFailed
}

func (s *Scheduler) notify(ctx context.Context, logger *slog.Logger, op *Operation, verb string) {
	title := fmt.Sprintf("gitdelayed: %s %s", op.Kind, verb)
	body := fmt.Sprintf("%s\n%s", op.RepositoryPath, op.ID)
	if op.LastError != nil && op.Status != StatusSucceeded {
		body += "\n" + *op.LastError
	}
	if err := s.notifier.Send(ctx, title, body); err != nil {
		logger.Warn("send notification", "err", err)
	}
}

func (s *Scheduler) stopRequested(ctx context.Context) bool {
	return s.stopping.Load() || ctx.Err() != nil
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

type nopNotifier struct{}

func (nopNotifier) Send(context.Context, string, string) error { return nil }

type nopRecorder struct{}

func (nopRecorder) ObserveExecution(OperationKind, ExecutionOutcome, time.Duration) {}
func (nopRecorder) ObserveTick(TickReport)                                          {}
