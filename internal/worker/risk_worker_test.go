package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
	"github.com/bitfantasy/nimo-ipd/internal/engine"
	"github.com/bitfantasy/nimo-ipd/internal/events"
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
	"github.com/bitfantasy/nimo-ipd/internal/repository"
	"github.com/bitfantasy/nimo-ipd/internal/service"
	"github.com/bitfantasy/nimo-ipd/internal/testutil"
)

type recordingApplier struct {
	mu   sync.Mutex
	seen []events.Event
}

func (a *recordingApplier) Apply(_ context.Context, ev events.Event) (*entity.RiskProfile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = append(a.seen, ev)
	if ev.PartNumber == "" {
		return nil, apperr.Validation("risk event without part number")
	}
	return &entity.RiskProfile{PartNumber: ev.PartNumber}, nil
}

func (a *recordingApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.seen)
}

func TestDrainProcessesBacklogInOrder(t *testing.T) {
	q := events.NewMemoryQueue(8)
	ctx := context.Background()
	for _, pn := range []string{"A", "", "B"} {
		require.NoError(t, q.Publish(ctx, events.Event{Type: events.TypeRevisionChange, PartNumber: pn}))
	}

	applier := &recordingApplier{}
	n, err := NewRiskWorker(q, applier, zap.NewNop()).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, applier.seen, 3)
	assert.Equal(t, "A", applier.seen[0].PartNumber)
	assert.Equal(t, "B", applier.seen[2].PartNumber)
}

func TestRunStopsOnCancel(t *testing.T) {
	q := events.NewMemoryQueue(8)
	applier := &recordingApplier{}
	w := NewRiskWorker(q, applier, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, q.Publish(ctx, events.Event{Type: events.TypeDriftOpened, PartNumber: "P1"}))
	assert.Eventually(t, func() bool { return applier.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRunStopsWhenQueueClosed(t *testing.T) {
	q := events.NewMemoryQueue(1)
	require.NoError(t, q.Close())
	assert.NoError(t, NewRiskWorker(q, &recordingApplier{}, zap.NewNop()).Run(context.Background()))
}

func TestRiskScoreNeverDecreasesAcrossDriftEvents(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	scorer, err := engine.NewScorer(engine.DefaultRiskConfig())
	require.NoError(t, err)
	risk := service.NewRiskService(repos, scorer, service.Options{OpTimeout: time.Second})

	q := events.NewMemoryQueue(16)
	ctx := context.Background()
	w := NewRiskWorker(q, risk, zap.NewNop())

	at := time.Now()
	prev := 0.0
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Publish(ctx, events.Event{
			Type:       events.TypeDriftOpened,
			PartNumber: "D5320-1",
			OccurredAt: at,
		}))
		_, err := w.Drain(ctx)
		require.NoError(t, err)

		view, err := risk.Get(ctx, "D5320-1")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, view.RiskScore, prev)
		assert.LessOrEqual(t, view.RiskScore, engine.MaxRiskScore)
		prev = view.RiskScore
	}
	assert.Equal(t, entity.VolatilityHigh, scorer.Bucket(prev))
}

// flakyApplier 前 failures 次返回瞬时错误
type flakyApplier struct {
	mu       sync.Mutex
	failures int
	calls    int
	applied  []events.Event
}

func (a *flakyApplier) Apply(_ context.Context, ev events.Event) (*entity.RiskProfile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.calls <= a.failures {
		return nil, errors.New("database connection lost")
	}
	a.applied = append(a.applied, ev)
	return &entity.RiskProfile{PartNumber: ev.PartNumber}, nil
}

func TestTransientFailureIsRequeued(t *testing.T) {
	q := events.NewMemoryQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, events.Event{ID: "e1", Type: events.TypeDriftOpened, PartNumber: "P1"}))

	applier := &flakyApplier{failures: 1}
	n, err := NewRiskWorker(q, applier, zap.NewNop()).WithRetry(3, 0).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, applier.applied, 1)
	assert.Equal(t, "e1", applier.applied[0].ID)
	assert.Equal(t, 1, applier.applied[0].Attempts)
	assert.Empty(t, q.DeadLetters())

	depth, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestPersistentFailureGoesToDeadLetter(t *testing.T) {
	q := events.NewMemoryQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, events.Event{ID: "e1", Type: events.TypeDriftOpened, PartNumber: "P1"}))

	applier := &flakyApplier{failures: 100}
	n, err := NewRiskWorker(q, applier, zap.NewNop()).WithRetry(3, 0).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, applier.calls)
	assert.Empty(t, applier.applied)

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "e1", dead[0].ID)
	assert.Equal(t, 3, dead[0].Attempts)
}

func TestInvalidEventIsNotRetried(t *testing.T) {
	q := events.NewMemoryQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, events.Event{ID: "bad", Type: events.TypeDriftOpened}))

	applier := &recordingApplier{}
	n, err := NewRiskWorker(q, applier, zap.NewNop()).WithRetry(3, 0).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, applier.count())
	assert.Empty(t, q.DeadLetters())
}
