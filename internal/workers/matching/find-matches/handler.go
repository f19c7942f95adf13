// internal/workers/matching/find-matches/handler.go
package findmatches

import (
	"context"
	"encoding/json"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/xeipuuv/gojsonschema"

	"cardtrade-workers/internal/common/errors"
	"cardtrade-workers/internal/common/logger"
	"cardtrade-workers/internal/engine"
	"cardtrade-workers/internal/models"
)

const (
	TaskType = "find-matches"
)

var inputSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"userId"},
	"properties": map[string]interface{}{
		"userId":  map[string]interface{}{"type": "string", "minLength": 1},
		"trigger": map[string]interface{}{"type": "string"},
		"scope": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"radiusKm":  map[string]interface{}{"type": "number", "exclusiveMinimum": 0},
				"community": map[string]interface{}{"type": "string", "minLength": 1},
			},
		},
	},
}

// MatchRunner executes one matching run. Satisfied by *engine.Engine.
type MatchRunner interface {
	FindMatchesForUser(ctx context.Context, userID string, opts engine.RunOptions) (*engine.Result, error)
}

// SetReader loads the previously stored match set.
type SetReader interface {
	Get(ctx context.Context, userID string) ([]models.MatchCandidate, models.MatchSetStatus, error)
}

// MatchNotifier announces newly discovered matches.
type MatchNotifier interface {
	NewMatches(prev, next []models.MatchCandidate) []models.MatchCandidate
	NotifyNew(ctx context.Context, userID string, prev, next []models.MatchCandidate) error
}

type Handler struct {
	config     *Config
	runner     MatchRunner
	sets       SetReader
	notifier   MatchNotifier
	logger     logger.Logger
	errHandler *errors.ErrorHandler
}

func NewHandler(config *Config, runner MatchRunner, sets SetReader, notifier MatchNotifier, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		runner:     runner,
		sets:       sets,
		notifier:   notifier,
		logger:     l,
		errHandler: errors.NewErrorHandler(l),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := parseInput(job.Variables)
	if err != nil {
		h.errHandler.HandleJobError(ctx, client, job, err)
		return
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		h.errHandler.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(client, job, output)
}

func parseInput(variables string) (*Input, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(inputSchema),
		gojsonschema.NewStringLoader(variables),
	)
	if err != nil {
		return nil, errors.NewInvalidJobPayloadError(err.Error())
	}
	if !result.Valid() {
		details := ""
		for _, desc := range result.Errors() {
			if details != "" {
				details += "; "
			}
			details += desc.String()
		}
		return nil, errors.NewInvalidJobPayloadError(details)
	}

	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, errors.NewInvalidJobPayloadError(err.Error())
	}
	return &input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	prev, _, err := h.sets.Get(ctx, input.UserID)
	if err != nil {
		return nil, errors.NewListStorageFailedError(input.UserID, err)
	}

	result, err := h.runner.FindMatchesForUser(ctx, input.UserID, engine.RunOptions{
		Scope:   input.Scope,
		Trigger: input.Trigger,
	})
	if err != nil {
		return nil, err
	}

	fresh := h.notifier.NewMatches(prev, result.Candidates)
	if err := h.notifier.NotifyNew(ctx, input.UserID, prev, result.Candidates); err != nil {
		// the run already persisted; notification failure must not
		// fail the job and trigger a recompute
		h.logger.Warn("match notification failed", map[string]interface{}{
			"userId": input.UserID,
			"error":  err.Error(),
		})
	}

	topScore := 0
	if len(result.Candidates) > 0 {
		topScore = result.Candidates[0].Score
	}

	return &Output{
		UserID:      input.UserID,
		MatchCount:  len(result.Candidates),
		NewMatches:  len(fresh),
		TopScore:    topScore,
		Evaluated:   result.Evaluated,
		Excluded:    result.Excluded,
		RunSequence: result.RunSequence,
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if _, err := cmd.Send(context.Background()); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
