package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/stvsoc/internal-site/internal/jobs"
)

type stubPruner struct {
	deleted int64
	err     error
	calls   int
}

func (s *stubPruner) PruneSessions(ctx context.Context) (int64, error) {
	s.calls++
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("expected deadline on prune context")
	}
	return s.deleted, s.err
}

func TestSessionPruneJobRecordsDeletions(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	pruner := &stubPruner{deleted: 7}
	job := NewSessionPruneJob(pruner, nil, metrics)

	task, err := NewSessionsPruneTask("cron")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	assert.Equal(t, 1, pruner.calls)
	count, err := testutil.GatherAndCount(registry, "internalsite_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(`
# HELP internalsite_sessions_pruned_total Expired session records deleted by the prune job.
# TYPE internalsite_sessions_pruned_total counter
internalsite_sessions_pruned_total 7
`), "internalsite_sessions_pruned_total"))
}

func TestSessionPruneJobFailure(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	boom := errors.New("db down")
	job := NewSessionPruneJob(&stubPruner{err: boom}, nil, metrics)

	err := job.Handle(context.Background(), asynq.NewTask(TaskSessionsPrune, nil))
	require.ErrorIs(t, err, boom)
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(`
# HELP internalsite_jobs_failures_total Total failures observed for background jobs.
# TYPE internalsite_jobs_failures_total counter
internalsite_jobs_failures_total{job="sessions:prune"} 1
`), "internalsite_jobs_failures_total"))
}

func TestSessionPruneJobBadPayload(t *testing.T) {
	job := NewSessionPruneJob(&stubPruner{}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	err := job.Handle(context.Background(), asynq.NewTask(TaskSessionsPrune, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSessionPruneJobNotConfigured(t *testing.T) {
	var job *SessionPruneJob
	assert.Error(t, job.Handle(context.Background(), asynq.NewTask(TaskSessionsPrune, nil)))
}
