// internal/workers/matching/invalidate-matches/handler_test.go
package invalidatematches

import (
	"context"
	"testing"
	"time"

	"cardtrade-workers/internal/common/errors"
	"cardtrade-workers/internal/common/logger"
	"cardtrade-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInvalidator struct {
	err      error
	lastUser string
	lastKind models.ListKind
	calls    int
}

func (s *stubInvalidator) OnListMutated(ctx context.Context, userID string, kind models.ListKind) error {
	s.calls++
	s.lastUser = userID
	s.lastKind = kind
	return s.err
}

func createTestHandler(t *testing.T, inv ListInvalidator) *Handler {
	return NewHandler(&Config{Timeout: 10 * time.Second}, inv, logger.NewTestLogger(t))
}

func TestHandler_Execute_WantList(t *testing.T) {
	inv := &stubInvalidator{}
	handler := createTestHandler(t, inv)

	output, err := handler.execute(context.Background(), &Input{UserID: "alice", ListKind: "want"})
	require.NoError(t, err)

	assert.True(t, output.Invalidated)
	assert.Equal(t, "alice", output.UserID)
	assert.Equal(t, "want", output.ListKind)
	assert.NotEmpty(t, output.CompletedAt)
	assert.Equal(t, models.ListKindWant, inv.lastKind)
}

func TestHandler_Execute_HaveList(t *testing.T) {
	inv := &stubInvalidator{}
	handler := createTestHandler(t, inv)

	_, err := handler.execute(context.Background(), &Input{UserID: "alice", ListKind: "have"})
	require.NoError(t, err)
	assert.Equal(t, models.ListKindHave, inv.lastKind)
}

func TestHandler_Execute_InvalidatorError(t *testing.T) {
	inv := &stubInvalidator{err: errors.NewInvalidationFailedError("alice", assert.AnError)}
	handler := createTestHandler(t, inv)

	_, err := handler.execute(context.Background(), &Input{UserID: "alice", ListKind: "have"})
	require.Error(t, err)

	var stdErr *errors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, errors.ErrCodeInvalidationFailed, stdErr.Code)
}

func TestParseInput_Valid(t *testing.T) {
	input, err := parseInput(`{"userId": "alice", "listKind": "want"}`)
	require.NoError(t, err)
	assert.Equal(t, "alice", input.UserID)
	assert.Equal(t, "want", input.ListKind)
}

func TestParseInput_UnknownListKind(t *testing.T) {
	_, err := parseInput(`{"userId": "alice", "listKind": "wishlist"}`)
	require.Error(t, err)

	var stdErr *errors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, errors.ErrCodeInvalidJobPayload, stdErr.Code)
}

func TestParseInput_MissingFields(t *testing.T) {
	_, err := parseInput(`{"userId": "alice"}`)
	require.Error(t, err)

	var stdErr *errors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, errors.ErrCodeInvalidJobPayload, stdErr.Code)
}
