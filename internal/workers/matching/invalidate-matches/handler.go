// internal/workers/matching/invalidate-matches/handler.go
package invalidatematches

import (
	"context"
	"encoding/json"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/xeipuuv/gojsonschema"

	"cardtrade-workers/internal/common/errors"
	"cardtrade-workers/internal/common/logger"
	"cardtrade-workers/internal/models"
)

const (
	TaskType = "invalidate-matches"
)

var inputSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"userId", "listKind"},
	"properties": map[string]interface{}{
		"userId":   map[string]interface{}{"type": "string", "minLength": 1},
		"listKind": map[string]interface{}{"type": "string", "enum": []interface{}{"want", "have"}},
	},
}

// ListInvalidator reacts to a user's list mutation. Satisfied by
// *recompute.Invalidator.
type ListInvalidator interface {
	OnListMutated(ctx context.Context, userID string, kind models.ListKind) error
}

type Handler struct {
	config      *Config
	invalidator ListInvalidator
	logger      logger.Logger
	errHandler  *errors.ErrorHandler
}

func NewHandler(config *Config, invalidator ListInvalidator, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:      config,
		invalidator: invalidator,
		logger:      l,
		errHandler:  errors.NewErrorHandler(l),
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
	kind := models.ListKind(input.ListKind)
	if err := h.invalidator.OnListMutated(ctx, input.UserID, kind); err != nil {
		return nil, err
	}

	return &Output{
		UserID:      input.UserID,
		ListKind:    input.ListKind,
		Invalidated: true,
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
