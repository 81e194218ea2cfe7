package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/stvsoc/internal-site/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SessionPruner removes expired sessions. auth.Service satisfies it.
type SessionPruner interface {
	PruneSessions(ctx context.Context) (int64, error)
}

// SessionPruneJob deletes expired rows from the sessions table.
type SessionPruneJob struct {
	Sessions SessionPruner
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	Timeout  time.Duration
}

// NewSessionPruneJob wires dependencies for the prune handler.
func NewSessionPruneJob(sessions SessionPruner, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionPruneJob {
	return &SessionPruneJob{Sessions: sessions, Logger: logger, Metrics: metrics, Timeout: time.Minute}
}

// Handle processes TaskSessionsPrune tasks.
func (j *SessionPruneJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Sessions == nil {
		return errors.New("sessions prune: handler not configured")
	}
	var payload SessionsPrunePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskSessionsPrune)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	logger := j.logger().With(slog.String("reason", payload.Reason))
	start := time.Now()
	n, err := j.Sessions.PruneSessions(ctx)
	if err != nil {
		logger.Error("prune sessions", slog.Any("error", err))
		return err
	}
	j.metrics().AddPrunedSessions(n)
	logger.Info("pruned sessions", slog.Int64("deleted", n), slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *SessionPruneJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSessionsPrune))
	}
	return slog.Default().With(slog.String("job", TaskSessionsPrune))
}

func (j *SessionPruneJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
