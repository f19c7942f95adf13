// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
//
// Only infrastructure failures propagate out of the matching core; input
// absence resolves to safe defaults and integrity violations exclude the
// offending candidate silently, so neither appears here.
type ErrorCode string

const (
	ErrCodeListStorageFailed  ErrorCode = "LIST_STORAGE_FAILED"
	ErrCodeIndexLookupFailed  ErrorCode = "INDEX_LOOKUP_FAILED"
	ErrCodeScopeFilterFailed  ErrorCode = "SCOPE_FILTER_FAILED"
	ErrCodeMatchPersistFailed ErrorCode = "MATCH_PERSIST_FAILED"
	ErrCodeRunSuperseded      ErrorCode = "MATCH_RUN_SUPERSEDED"
	ErrCodeRunBudgetExceeded  ErrorCode = "RUN_BUDGET_EXCEEDED"

	ErrCodeInvalidJobPayload      ErrorCode = "INVALID_JOB_PAYLOAD"
	ErrCodeInvalidScope           ErrorCode = "INVALID_SCOPE"
	ErrCodeInvalidationFailed     ErrorCode = "INVALIDATION_FAILED"
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// BPMNError represents an error that can be thrown to the workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// --- Constructors ---

// NewListStorageFailedError creates a retryable want/have store error.
func NewListStorageFailedError(userID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeListStorageFailed,
		Message:   "Want/have list storage error",
		Details:   fmt.Sprintf("userId: %s, error: %s", userID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewIndexLookupFailedError creates a retryable reverse index error.
func NewIndexLookupFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeIndexLookupFailed,
		Message:   "Reverse index lookup error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewScopeFilterFailedError creates a retryable scope filter error.
func NewScopeFilterFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeScopeFilterFailed,
		Message:   "Candidate scope filter error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewMatchPersistFailedError creates a retryable persistence error. The
// previous stored set stays untouched and stale.
func NewMatchPersistFailedError(userID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeMatchPersistFailed,
		Message:   "Match set persistence error",
		Details:   fmt.Sprintf("userId: %s, error: %s", userID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRunSupersededError reports a lost persistence race: a run with a
// higher sequence number already replaced the set. Retryable so the
// scheduler reconverges on the next cycle.
func NewRunSupersededError(userID string, runSeq int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeRunSuperseded,
		Message:   "Matching run lost the persistence race",
		Details:   fmt.Sprintf("userId: %s, runSequence: %d", userID, runSeq),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRunBudgetExceededError reports a run aborted at its wall-clock
// budget, with nothing persisted.
func NewRunBudgetExceededError(userID string, budget time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeRunBudgetExceeded,
		Message:   "Matching run exceeded its wall-clock budget",
		Details:   fmt.Sprintf("userId: %s, budget: %s", userID, budget),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidJobPayloadError creates a non-retryable payload error.
func NewInvalidJobPayloadError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidJobPayload,
		Message:   "Job payload failed schema validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidScopeError creates a non-retryable scope error.
func NewInvalidScopeError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidScope,
		Message:   "Unsupported recompute scope",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidationFailedError creates a retryable invalidation error.
func NewInvalidationFailedError(userID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidationFailed,
		Message:   "Match set invalidation error",
		Details:   fmt.Sprintf("userId: %s, error: %s", userID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable notification error.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// --- BPMN conversion ---

// GetRetryCount returns the recommended retry count per error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeListStorageFailed,
		ErrCodeIndexLookupFailed,
		ErrCodeMatchPersistFailed,
		ErrCodeInvalidationFailed,
		ErrCodeNotificationSendFailed:
		return 3

	case ErrCodeScopeFilterFailed,
		ErrCodeRunBudgetExceeded,
		ErrCodeRunSuperseded:
		return 2

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError for the workflow engine.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}
