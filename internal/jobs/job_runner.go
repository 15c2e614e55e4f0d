package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"carrent-backend/internal/config"
	"carrent-backend/internal/domain"
	"carrent-backend/internal/logger"
	"carrent-backend/internal/repository"
	"carrent-backend/internal/service"
)

// Handler performs the deferred effect of one job. Handlers re-check the
// entity state and return nil when the job has become moot.
type Handler func(ctx context.Context, job domain.ScheduledJob) error

// JobRunner claims due scheduled jobs and dispatches them by kind
type JobRunner struct {
	jobs     repository.JobRepository
	handlers map[domain.JobKind]Handler
	config   *config.Config
	now      func() time.Time
}

// Services holds the service dependencies needed by jobs
type Services struct {
	Bookings  service.BookingService
	Contracts service.ContractService
}

// NewJobRunner creates a job runner with the handlers for every job kind
func NewJobRunner(jobs repository.JobRepository, services *Services, cfg *config.Config) *JobRunner {
	jr := &JobRunner{
		jobs:   jobs,
		config: cfg,
		now:    time.Now,
	}
	jr.handlers = map[domain.JobKind]Handler{
		domain.JobKindExtensionPaymentTimeout: func(ctx context.Context, job domain.ScheduledJob) error {
			var p domain.ExtensionTimeoutPayload
			if err := json.Unmarshal(job.Payload, &p); err != nil {
				return fmt.Errorf("decode extension timeout payload: %w", err)
			}
			return services.Bookings.RevertUnpaidExtension(ctx, job.EntityID, p)
		},
		domain.JobKindInspectionExpiry: func(ctx context.Context, job domain.ScheduledJob) error {
			return services.Contracts.ExpireInspectionSchedule(ctx, job.EntityID)
		},
	}
	return jr
}

func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// DispatchDueJobs is the cron entry point.
func (jr *JobRunner) DispatchDueJobs() {
	if _, err := jr.RunDue(context.Background()); err != nil {
		logger.Error("Failed to dispatch scheduled jobs", "error", err)
	}
}

// RunDue claims up to one batch of due jobs and runs them. It returns how
// many jobs completed.
func (jr *JobRunner) RunDue(ctx context.Context) (int, error) {
	now := jr.now()
	due, err := jr.jobs.ClaimDue(ctx, now, now.Add(-jr.config.JobLease()), jr.config.Scheduler.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due jobs: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}
	logger.Info("Dispatching scheduled jobs", "count", len(due))

	done := 0
	for _, job := range due {
		if jr.run(ctx, job) {
			done++
		}
	}
	return done, nil
}

func (jr *JobRunner) run(ctx context.Context, job domain.ScheduledJob) bool {
	if job.Attempts > jr.config.Scheduler.MaxAttempts {
		// Reclaimed after its runners kept dying mid-job.
		logger.Error("Scheduled job exhausted its attempts", "job_id", job.ID, "kind", job.Kind, "entity_id", job.EntityID, "attempts", job.Attempts)
		if err := jr.jobs.MarkFailed(ctx, job.ID, "lease expired on every attempt", nil, jr.now()); err != nil {
			logger.Error("Failed to mark job failed", "job_id", job.ID, "error", err)
		}
		return false
	}

	err := jr.runWithRecovery(ctx, job)
	now := jr.now()
	if err == nil {
		if err := jr.jobs.MarkDone(ctx, job.ID, now); err != nil {
			logger.Error("Failed to mark job done", "job_id", job.ID, "error", err)
		}
		return true
	}

	retryAt := jr.retryAt(job.Attempts, now)
	logger.Warn("Scheduled job failed", "job_id", job.ID, "kind", job.Kind, "entity_id", job.EntityID,
		"attempt", job.Attempts, "will_retry", retryAt != nil, "error", err)
	if err := jr.jobs.MarkFailed(ctx, job.ID, err.Error(), retryAt, now); err != nil {
		logger.Error("Failed to mark job failed", "job_id", job.ID, "error", err)
	}
	return false
}

// runWithRecovery runs the job's handler, turning a panic into an error
func (jr *JobRunner) runWithRecovery(ctx context.Context, job domain.ScheduledJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job_id", job.ID, "kind", job.Kind, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	handler, ok := jr.handlers[job.Kind]
	if !ok {
		return fmt.Errorf("no handler for job kind %q", job.Kind)
	}
	logger.Debug("Starting job", "job_id", job.ID, "kind", job.Kind, "entity_id", job.EntityID)
	return handler(ctx, job)
}

// retryAt backs off exponentially; nil once the attempts are used up.
func (jr *JobRunner) retryAt(attempts int32, now time.Time) *time.Time {
	if attempts >= jr.config.Scheduler.MaxAttempts {
		return nil
	}
	backoff := jr.config.RetryBackoff()
	for i := int32(1); i < attempts; i++ {
		backoff *= 2
	}
	at := now.Add(backoff)
	return &at
}
