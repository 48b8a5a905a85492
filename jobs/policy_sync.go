package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/rigflow/rigflow/internal/jobs"
	"github.com/rigflow/rigflow/internal/rbac"
)

// PolicyPublisher distributes a validated policy.
type PolicyPublisher interface {
	Publish(ctx context.Context, policy rbac.Policy) (int64, error)
}

// PolicySyncJob loads the authoritative policy, validates it and publishes it
// for the API servers to pick up.
type PolicySyncJob struct {
	Source    rbac.Source
	Publisher PolicyPublisher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewPolicySyncJob initialises the policy sync handler.
func NewPolicySyncJob(source rbac.Source, publisher PolicyPublisher, logger *slog.Logger, metrics *jobmetrics.Metrics) *PolicySyncJob {
	return &PolicySyncJob{Source: source, Publisher: publisher, Logger: logger, Metrics: metrics}
}

// Handle executes one sync run.
func (j *PolicySyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Source == nil || j.Publisher == nil {
		return errors.New("policy sync: handler not configured")
	}
	var payload PolicySyncPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("policy sync: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskPolicySync)
	return tracker.End(j.Run(ctx, payload))
}

// Run performs the sync outside of the queue.
func (j *PolicySyncJob) Run(ctx context.Context, payload PolicySyncPayload) error {
	start := time.Now()
	logger := j.logger().With(slog.String("source", j.Source.Name()), slog.Bool("dry_run", payload.DryRun))

	policy, err := j.Source.Load(ctx)
	if err != nil {
		logger.Error("policy sync load failed", slog.Any("error", err))
		return err
	}
	if err := policy.Validate(); err != nil {
		j.Metrics.AddPolicyDefects(j.Source.Name(), countJoined(err))
		logger.Error("policy sync rejected invalid policy", slog.Any("error", err))
		// A broken source will not fix itself on retry.
		return fmt.Errorf("policy sync: %w: %w", err, asynq.SkipRetry)
	}
	if missing := policy.MissingPermissions(); len(missing) > 0 {
		logger.Warn("policy missing registered permissions", slog.Any("permissions", missing))
	}
	if payload.DryRun {
		logger.Info("policy sync dry run passed", slog.Int("permissions", len(policy.Grants)))
		return nil
	}
	receivers, err := j.Publisher.Publish(ctx, policy)
	if err != nil {
		logger.Error("policy sync publish failed", slog.Any("error", err))
		return err
	}
	logger.Info("policy sync completed",
		slog.Int("permissions", len(policy.Grants)),
		slog.Int64("subscribers", receivers),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *PolicySyncJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func countJoined(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}
