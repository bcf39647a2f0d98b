package stats

import (
	"context"
	"fmt"
	"log/slog"

	"fcshare/internal/server/database"

	"github.com/google/uuid"
)

// JobCreator creates pending job records.
type JobCreator interface {
	Create(ctx context.Context, jobID string) (*database.StatisticsJob, error)
	Transition(ctx context.Context, jobID string, from, to database.JobStatus) (bool, error)
}

// Pusher hands job ids to workers.
type Pusher interface {
	Push(ctx context.Context, jobID string) error
}

// Scheduler records and enqueues statistics jobs.
type Scheduler struct {
	jobs  JobCreator
	queue Pusher
}

// NewScheduler creates a new Scheduler.
func NewScheduler(jobs JobCreator, queue Pusher) *Scheduler {
	return &Scheduler{jobs: jobs, queue: queue}
}

// Enqueue creates a pending job and queues it. If the queue rejects the id
// the job is marked failed so it is not left pending forever.
func (s *Scheduler) Enqueue(ctx context.Context) (*database.StatisticsJob, error) {
	job, err := s.jobs.Create(ctx, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("failed to create statistics job: %w", err)
	}

	if err := s.queue.Push(ctx, job.JobID); err != nil {
		if _, terr := s.jobs.Transition(ctx, job.JobID, database.JobPending, database.JobFailed); terr != nil {
			slog.Error("failed to mark unqueued job failed", "job_id", job.JobID, "error", terr)
		}
		return nil, err
	}

	slog.Info("statistics job enqueued", "job_id", job.JobID)
	return job, nil
}
