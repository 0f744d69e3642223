package scheduler

import (
	"context"
	"errors"
	"listing-pipeline-service/internal/contextkeys"
	"listing-pipeline-service/internal/core/domain"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticOffices struct {
	ids []uuid.UUID
	err error
}

func (s staticOffices) ListOfficesWithEnabledSources(ctx context.Context) ([]uuid.UUID, error) {
	return s.ids, s.err
}

type countingRun struct {
	mu       sync.Mutex
	seen     map[uuid.UUID]domain.RunOptions
	failFor  uuid.UUID
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (c *countingRun) Execute(ctx context.Context, officeID uuid.UUID, opts domain.RunOptions, taskID uuid.UUID) (domain.PipelineReport, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		peak := c.peak.Load()
		if n <= peak || c.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(c.delay)

	c.mu.Lock()
	c.seen[officeID] = opts
	c.mu.Unlock()

	if officeID == c.failFor {
		return domain.PipelineReport{}, domain.FatalConfigError("source %q: unknown", "allegro")
	}
	return domain.PipelineReport{OfficeID: officeID}, nil
}

func newScheduler(t *testing.T, offices officeLister, run *countingRun, concurrency int) *PipelineScheduler {
	t.Helper()
	s, err := NewPipelineScheduler("*/30 * * * *", concurrency, offices, run, contextkeys.LoggerFromContext(context.Background()))
	require.NoError(t, err)
	return s
}

func TestRunOnce_FansOutWithLimit(t *testing.T) {
	ids := make([]uuid.UUID, 6)
	for i := range ids {
		ids[i] = uuid.New()
	}
	run := &countingRun{seen: map[uuid.UUID]domain.RunOptions{}, failFor: ids[2], delay: 20 * time.Millisecond}
	s := newScheduler(t, staticOffices{ids: ids}, run, 2)

	require.NoError(t, s.RunOnce(context.Background()))

	assert.Len(t, run.seen, 6, "a failing office does not stop the others")
	assert.LessOrEqual(t, run.peak.Load(), int32(2))
	for _, opts := range run.seen {
		assert.True(t, opts.Filters.OnlyDue)
		assert.Empty(t, opts.Filters.Sources)
	}
}

func TestRunOnce_ListError(t *testing.T) {
	run := &countingRun{seen: map[uuid.UUID]domain.RunOptions{}}
	s := newScheduler(t, staticOffices{err: errors.New("db down")}, run, 2)

	assert.ErrorContains(t, s.RunOnce(context.Background()), "db down")
	assert.Empty(t, run.seen)
}

func TestRunOnce_CancelledContext(t *testing.T) {
	run := &countingRun{seen: map[uuid.UUID]domain.RunOptions{}}
	s := newScheduler(t, staticOffices{ids: []uuid.UUID{uuid.New(), uuid.New()}}, run, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.RunOnce(ctx), context.Canceled)
	assert.Empty(t, run.seen)
}

func TestNewPipelineScheduler_Validation(t *testing.T) {
	logger := contextkeys.LoggerFromContext(context.Background())
	run := &countingRun{seen: map[uuid.UUID]domain.RunOptions{}}

	_, err := NewPipelineScheduler("every tuesday", 1, staticOffices{}, run, logger)
	assert.Error(t, err)
	_, err = NewPipelineScheduler("@hourly", 1, nil, run, logger)
	assert.Error(t, err)

	s, err := NewPipelineScheduler("@hourly", 0, staticOffices{}, run, logger)
	require.NoError(t, err)
	assert.Equal(t, 1, s.concurrency)
}

func TestStartStopsOnCancel(t *testing.T) {
	run := &countingRun{seen: map[uuid.UUID]domain.RunOptions{}}
	s := newScheduler(t, staticOffices{}, run, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	assert.NoError(t, s.Close(), "close after stop is a no-op")
}
