// internal/workers/matching/find-matches/handler_test.go
package findmatches

import (
	"context"
	"testing"
	"time"

	"cardtrade-workers/internal/common/errors"
	"cardtrade-workers/internal/common/logger"
	"cardtrade-workers/internal/engine"
	"cardtrade-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type stubRunner struct {
	result   *engine.Result
	err      error
	lastOpts engine.RunOptions
	calls    int
}

func (s *stubRunner) FindMatchesForUser(ctx context.Context, userID string, opts engine.RunOptions) (*engine.Result, error) {
	s.calls++
	s.lastOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubSets struct {
	candidates []models.MatchCandidate
	status     models.MatchSetStatus
	err        error
}

func (s *stubSets) Get(ctx context.Context, userID string) ([]models.MatchCandidate, models.MatchSetStatus, error) {
	return s.candidates, s.status, s.err
}

type stubNotifier struct {
	fresh    []models.MatchCandidate
	err      error
	notified int
}

func (s *stubNotifier) NewMatches(prev, next []models.MatchCandidate) []models.MatchCandidate {
	return s.fresh
}

func (s *stubNotifier) NotifyNew(ctx context.Context, userID string, prev, next []models.MatchCandidate) error {
	s.notified++
	return s.err
}

func createTestConfig() *Config {
	return &Config{
		Timeout: 10 * time.Second,
	}
}

func createTestHandler(t *testing.T, runner MatchRunner, sets SetReader, notifier MatchNotifier) *Handler {
	testLog := logger.NewTestLogger(t)
	return NewHandler(createTestConfig(), runner, sets, notifier, testLog)
}

func candidate(id string, score int) models.MatchCandidate {
	return models.MatchCandidate{
		UserID:      "alice",
		CandidateID: id,
		Score:       score,
	}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_Success(t *testing.T) {
	runner := &stubRunner{result: &engine.Result{
		Candidates:  []models.MatchCandidate{candidate("bob", 72), candidate("carol", 58)},
		RunSequence: 9,
		Evaluated:   14,
		Excluded:    2,
		Persisted:   true,
	}}
	sets := &stubSets{status: models.MatchSetStale}
	notifier := &stubNotifier{fresh: []models.MatchCandidate{candidate("bob", 72)}}
	handler := createTestHandler(t, runner, sets, notifier)

	output, err := handler.execute(context.Background(), &Input{UserID: "alice", Trigger: "manual"})
	require.NoError(t, err)

	assert.Equal(t, "alice", output.UserID)
	assert.Equal(t, 2, output.MatchCount)
	assert.Equal(t, 1, output.NewMatches)
	assert.Equal(t, 72, output.TopScore)
	assert.Equal(t, 14, output.Evaluated)
	assert.Equal(t, 2, output.Excluded)
	assert.Equal(t, int64(9), output.RunSequence)
	assert.NotEmpty(t, output.CompletedAt)
	assert.Equal(t, 1, notifier.notified)
	assert.Equal(t, "manual", runner.lastOpts.Trigger)
}

func TestHandler_Execute_ScopePassedThrough(t *testing.T) {
	radius := 25.0
	runner := &stubRunner{result: &engine.Result{Persisted: true}}
	handler := createTestHandler(t, runner, &stubSets{}, &stubNotifier{})

	_, err := handler.execute(context.Background(), &Input{
		UserID: "alice",
		Scope:  &models.Scope{RadiusKM: &radius},
	})
	require.NoError(t, err)
	require.NotNil(t, runner.lastOpts.Scope)
	assert.Equal(t, 25.0, *runner.lastOpts.Scope.RadiusKM)
}

func TestHandler_Execute_EmptyResult(t *testing.T) {
	runner := &stubRunner{result: &engine.Result{RunSequence: 3, Persisted: true}}
	handler := createTestHandler(t, runner, &stubSets{}, &stubNotifier{})

	output, err := handler.execute(context.Background(), &Input{UserID: "alice"})
	require.NoError(t, err)

	assert.Equal(t, 0, output.MatchCount)
	assert.Equal(t, 0, output.TopScore)
	assert.Equal(t, int64(3), output.RunSequence)
}

func TestHandler_Execute_RunnerError(t *testing.T) {
	runner := &stubRunner{err: errors.NewRunSupersededError("alice", 4)}
	notifier := &stubNotifier{}
	handler := createTestHandler(t, runner, &stubSets{}, notifier)

	_, err := handler.execute(context.Background(), &Input{UserID: "alice"})
	require.Error(t, err)

	var stdErr *errors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, errors.ErrCodeRunSuperseded, stdErr.Code)
	assert.Equal(t, 0, notifier.notified)
}

func TestHandler_Execute_PreviousSetLoadFails(t *testing.T) {
	sets := &stubSets{err: assert.AnError}
	runner := &stubRunner{result: &engine.Result{Persisted: true}}
	handler := createTestHandler(t, runner, sets, &stubNotifier{})

	_, err := handler.execute(context.Background(), &Input{UserID: "alice"})
	require.Error(t, err)

	var stdErr *errors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, errors.ErrCodeListStorageFailed, stdErr.Code)
	assert.Equal(t, 0, runner.calls)
}

func TestHandler_Execute_NotificationFailureDoesNotFailJob(t *testing.T) {
	runner := &stubRunner{result: &engine.Result{
		Candidates:  []models.MatchCandidate{candidate("bob", 72)},
		RunSequence: 5,
		Persisted:   true,
	}}
	notifier := &stubNotifier{err: errors.NewNotificationSendFailedError("email", assert.AnError)}
	handler := createTestHandler(t, runner, &stubSets{}, notifier)

	output, err := handler.execute(context.Background(), &Input{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, output.MatchCount)
}

// ==========================
// Input Validation Tests
// ==========================

func TestParseInput_Valid(t *testing.T) {
	input, err := parseInput(`{"userId": "alice", "trigger": "scheduled"}`)
	require.NoError(t, err)
	assert.Equal(t, "alice", input.UserID)
	assert.Equal(t, "scheduled", input.Trigger)
	assert.Nil(t, input.Scope)
}

func TestParseInput_WithScope(t *testing.T) {
	input, err := parseInput(`{"userId": "alice", "scope": {"radiusKm": 10, "community": "berlin-traders"}}`)
	require.NoError(t, err)
	require.NotNil(t, input.Scope)
	assert.Equal(t, 10.0, *input.Scope.RadiusKM)
	assert.Equal(t, "berlin-traders", *input.Scope.Community)
}

func TestParseInput_MissingUserID(t *testing.T) {
	_, err := parseInput(`{"trigger": "manual"}`)
	require.Error(t, err)

	var stdErr *errors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, errors.ErrCodeInvalidJobPayload, stdErr.Code)
}

func TestParseInput_InvalidScope(t *testing.T) {
	_, err := parseInput(`{"userId": "alice", "scope": {"radiusKm": -5}}`)
	require.Error(t, err)

	var stdErr *errors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, errors.ErrCodeInvalidJobPayload, stdErr.Code)
}

func TestParseInput_MalformedJSON(t *testing.T) {
	_, err := parseInput(`{not json`)
	require.Error(t, err)
}
