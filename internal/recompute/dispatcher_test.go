package recompute

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardtrade-workers/internal/common/errors"
	"cardtrade-workers/internal/common/logger"
	"cardtrade-workers/internal/engine"
	"cardtrade-workers/internal/models"
)

type recordingRunner struct {
	mu   sync.Mutex
	runs []engine.RunOptions
	errs []error
}

func (r *recordingRunner) FindMatchesForUser(_ context.Context, userID string, opts engine.RunOptions) (*engine.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, opts)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return nil, err
	}
	return &engine.Result{Persisted: true}, nil
}

func (r *recordingRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func setupDispatcher(t *testing.T, runner MatchRunner) (*Queue, *Dispatcher) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	q := NewQueue(rdb, logger.NewNop(), "test:recompute")
	c, err := NewConsumer(q, logger.NewNop(), "matchers", "worker-1",
		WithBlockTime(10*time.Millisecond))
	require.NoError(t, err)

	return q, NewDispatcher(c, runner, logger.NewNop(), 1, 5000)
}

func TestDispatcherProcessesMessage(t *testing.T) {
	runner := &recordingRunner{}
	q, d := setupDispatcher(t, runner)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, q.Publish(ctx, NewMessage("alice", ReasonHaveChanged)))

	d.Start(ctx)
	require.Eventually(t, func() bool { return runner.runCount() >= 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	d.Wait()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, "list-change", runner.runs[0].Trigger)
	assert.Equal(t, 0, runner.runs[0].CandidateCap)
}

func TestDispatcherRetriesWithHalvedCap(t *testing.T) {
	runner := &recordingRunner{errs: []error{
		errors.NewRunBudgetExceededError("alice", 30*time.Second),
	}}
	q, d := setupDispatcher(t, runner)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, q.Publish(ctx, NewMessage("alice", ReasonScheduled)))

	d.Start(ctx)
	require.Eventually(t, func() bool { return runner.runCount() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	d.Wait()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 0, runner.runs[0].CandidateCap)
	assert.Equal(t, 2500, runner.runs[1].CandidateCap)
}

func TestDispatcherAcksSupersededRun(t *testing.T) {
	runner := &recordingRunner{errs: []error{
		errors.NewRunSupersededError("alice", 7),
	}}
	q, d := setupDispatcher(t, runner)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, q.Publish(ctx, NewMessage("alice", ReasonManual)))

	d.Start(ctx)
	require.Eventually(t, func() bool { return runner.runCount() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	cancel()
	d.Wait()

	// superseded is terminal, the message must not be redelivered
	assert.Equal(t, 1, runner.runCount())
}

type notifyRecorder struct {
	mu    sync.Mutex
	calls int
	prev  []models.MatchCandidate
	next  []models.MatchCandidate
}

func (n *notifyRecorder) NotifyNew(_ context.Context, userID string, prev, next []models.MatchCandidate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	n.prev = prev
	n.next = next
	return nil
}

func (n *notifyRecorder) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

type fixedSets struct{ stored []models.MatchCandidate }

func (f fixedSets) Get(context.Context, string) ([]models.MatchCandidate, models.MatchSetStatus, error) {
	return f.stored, models.MatchSetStale, nil
}

func TestDispatcherNotifiesAfterSuccessfulRun(t *testing.T) {
	fresh := []models.MatchCandidate{{UserID: "alice", CandidateID: "carol", Score: 74}}
	runner := &notifyingRunner{result: &engine.Result{Candidates: fresh, Persisted: true}}
	q, d := setupDispatcher(t, runner)

	previous := []models.MatchCandidate{{UserID: "alice", CandidateID: "bob", Score: 61}}
	recorder := &notifyRecorder{}
	d.NotifyWith(fixedSets{stored: previous}, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Publish(ctx, NewMessage("alice", ReasonHaveChanged)))

	d.Start(ctx)
	require.Eventually(t, func() bool { return recorder.callCount() >= 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	d.Wait()

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Equal(t, previous, recorder.prev)
	assert.Equal(t, fresh, recorder.next)
}

type notifyingRunner struct {
	mu     sync.Mutex
	result *engine.Result
	runs   int
}

func (r *notifyingRunner) FindMatchesForUser(context.Context, string, engine.RunOptions) (*engine.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
	return r.result, nil
}

func TestDispatcherAckReleasesPublishGuard(t *testing.T) {
	runner := &recordingRunner{}
	q, d := setupDispatcher(t, runner)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, q.Publish(ctx, NewMessage("alice", ReasonWantChanged)))
	require.NoError(t, q.Publish(ctx, NewMessage("alice", ReasonHaveChanged)))

	d.Start(ctx)
	require.Eventually(t, func() bool { return runner.runCount() >= 1 }, 2*time.Second, 10*time.Millisecond)

	// once the ack clears the marker the next mutation enqueues again
	require.Eventually(t, func() bool {
		return q.rdb.Exists(ctx, q.inFlightKey("alice")).Val() == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, q.Publish(ctx, NewMessage("alice", ReasonWantChanged)))
	require.Eventually(t, func() bool { return runner.runCount() >= 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	d.Wait()
	assert.Equal(t, 2, runner.runCount())
}

type countingLogger struct {
	logger.Logger
	mu     sync.Mutex
	errors int
}

func (c *countingLogger) Error(string, map[string]interface{}) {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

func (c *countingLogger) WithFields(map[string]interface{}) logger.Logger { return c }

func (c *countingLogger) errorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

func TestWorkerBacksOffWhenReadsFail(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	q := NewQueue(rdb, logger.NewNop(), "test:recompute")
	c, err := NewConsumer(q, logger.NewNop(), "matchers", "worker-1",
		WithBlockTime(10*time.Millisecond))
	require.NoError(t, err)

	log := &countingLogger{Logger: logger.NewNop()}
	d := NewDispatcher(c, &recordingRunner{}, log, 1, 5000)
	d.readBackoff = 50 * time.Millisecond

	mr.Close()
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	time.Sleep(200 * time.Millisecond)
	cancel()
	d.Wait()

	// without the pause a dead connection produces thousands of
	// failed reads in this window
	count := log.errorCount()
	assert.GreaterOrEqual(t, count, 1)
	assert.LessOrEqual(t, count, 10)
}

func TestCapForRetryFloor(t *testing.T) {
	d := &Dispatcher{candidateCap: 5000}
	assert.Equal(t, 0, d.capForRetry(0))
	assert.Equal(t, 2500, d.capForRetry(1))
	assert.Equal(t, 1250, d.capForRetry(2))
	assert.Equal(t, 100, d.capForRetry(10))
}
