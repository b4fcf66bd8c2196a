package metrics_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tutoreval/internal/metrics"
	"github.com/kiranshivaraju/tutoreval/internal/queue"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSource struct{}

func (failingSource) Stats(context.Context) (queue.Stats, error) {
	return queue.Stats{}, errors.New("redis down")
}

func TestQueueCollector(t *testing.T) {
	q := queue.NewMemoryQueue(3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, models.Task{JobID: uuid.New()}, time.Now().Add(time.Hour)))
	}
	_, err := q.Claim(ctx, "w1", time.Second)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewQueueCollector(q, nil))

	expected := `
# HELP tutoreval_queue_depth Current task queue depth by state.
# TYPE tutoreval_queue_depth gauge
tutoreval_queue_depth{state="dead"} 0
tutoreval_queue_depth{state="in_flight"} 1
tutoreval_queue_depth{state="pending"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "tutoreval_queue_depth"))
}

func TestQueueCollector_SourceError(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewQueueCollector(failingSource{}, nil))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(metrics.TasksProcessedTotal.WithLabelValues("mock/0.1", metrics.OutcomeEvaluated))
	metrics.TasksProcessedTotal.WithLabelValues("mock/0.1", metrics.OutcomeEvaluated).Inc()
	after := testutil.ToFloat64(metrics.TasksProcessedTotal.WithLabelValues("mock/0.1", metrics.OutcomeEvaluated))
	assert.Equal(t, before+1, after)
}
