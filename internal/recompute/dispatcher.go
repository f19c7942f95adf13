// internal/recompute/dispatcher.go
package recompute

import (
	"context"
	"sync"
	"time"

	"cardtrade-workers/internal/common/errors"
	"cardtrade-workers/internal/common/logger"
	"cardtrade-workers/internal/engine"
	"cardtrade-workers/internal/models"
)

// MatchRunner executes one matching run. Satisfied by *engine.Engine.
type MatchRunner interface {
	FindMatchesForUser(ctx context.Context, userID string, opts engine.RunOptions) (*engine.Result, error)
}

// SetReader loads the stored match set a run is about to replace.
type SetReader interface {
	Get(ctx context.Context, userID string) ([]models.MatchCandidate, models.MatchSetStatus, error)
}

// Notifier announces matches that were not in the previous set.
type Notifier interface {
	NotifyNew(ctx context.Context, userID string, prev, next []models.MatchCandidate) error
}

// Dispatcher drains the recompute queue with a fixed worker pool. Each
// worker reads a batch, runs the engine per message, and acks or routes
// failures through the consumer's retry path.
//
// A redelivered message runs with a halved candidate cap per retry, so a
// user whose run keeps blowing its budget converges on a workload that
// fits instead of looping through the dead letter stream.
type Dispatcher struct {
	consumer     *Consumer
	runner       MatchRunner
	logger       logger.Logger
	poolSize     int
	candidateCap int
	sets         SetReader
	notifier     Notifier
	readBackoff  time.Duration
	wg           sync.WaitGroup
}

func NewDispatcher(consumer *Consumer, runner MatchRunner, log logger.Logger, poolSize, candidateCap int) *Dispatcher {
	if poolSize <= 0 {
		poolSize = 4
	}
	return &Dispatcher{
		consumer:     consumer,
		runner:       runner,
		logger:       log.WithFields(map[string]interface{}{"component": "recompute-dispatcher"}),
		poolSize:     poolSize,
		candidateCap: candidateCap,
		readBackoff:  time.Second,
	}
}

// NotifyWith makes the dispatcher announce newly surfaced matches after
// each successful recompute. Call before Start.
func (d *Dispatcher) NotifyWith(sets SetReader, notifier Notifier) {
	d.sets = sets
	d.notifier = notifier
}

// Start launches the worker pool. Workers exit when ctx is canceled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.poolSize; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	d.logger.Info("dispatcher started", map[string]interface{}{"poolSize": d.poolSize})
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch, err := d.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("queue read failed", map[string]interface{}{
				"worker": id,
				"error":  err.Error(),
			})
			// a broken connection fails reads instantly; pause so the
			// loop does not spin hot while Redis is down
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.readBackoff):
			}
			continue
		}

		for _, msg := range batch {
			d.process(ctx, msg)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, msg *MessageWithID) {
	opts := engine.RunOptions{
		Trigger:      triggerFor(msg.Message.Reason),
		CandidateCap: d.capForRetry(msg.Message.Retry),
	}

	var prev []models.MatchCandidate
	if d.notifier != nil && d.sets != nil {
		stored, _, getErr := d.sets.Get(ctx, msg.Message.UserID)
		if getErr != nil {
			d.logger.Warn("previous set unavailable, notifications may duplicate", map[string]interface{}{
				"userId": msg.Message.UserID,
				"error":  getErr.Error(),
			})
		} else {
			prev = stored
		}
	}

	result, err := d.runner.FindMatchesForUser(ctx, msg.Message.UserID, opts)
	if err == nil {
		if d.notifier != nil {
			if notifyErr := d.notifier.NotifyNew(ctx, msg.Message.UserID, prev, result.Candidates); notifyErr != nil {
				d.logger.Warn("match notification failed", map[string]interface{}{
					"userId": msg.Message.UserID,
					"error":  notifyErr.Error(),
				})
			}
		}
		d.ack(ctx, msg)
		return
	}

	if stdErr, ok := err.(*errors.StandardError); ok {
		// a newer run already replaced the set; nothing left to do
		if stdErr.Code == errors.ErrCodeRunSuperseded {
			d.ack(ctx, msg)
			return
		}
		if !stdErr.Retryable {
			d.logger.Error("recompute permanently failed", map[string]interface{}{
				"userId": msg.Message.UserID,
				"code":   string(stdErr.Code),
			})
		}
	}

	action, failErr := d.consumer.HandleFailure(ctx, msg, err)
	if failErr != nil {
		d.logger.Error("failure handling failed", map[string]interface{}{
			"userId": msg.Message.UserID,
			"error":  failErr.Error(),
		})
		return
	}
	d.logger.Warn("recompute failed", map[string]interface{}{
		"userId": msg.Message.UserID,
		"retry":  msg.Message.Retry,
		"action": string(action),
		"error":  err.Error(),
	})
}

func (d *Dispatcher) ack(ctx context.Context, msg *MessageWithID) {
	if err := d.consumer.Ack(ctx, msg.ID); err != nil {
		d.logger.Error("ack failed", map[string]interface{}{
			"msgId": msg.ID,
			"error": err.Error(),
		})
	}
	if err := d.consumer.queue.ClearInFlight(ctx, msg.Message.UserID); err != nil {
		d.logger.Warn("clear in-flight marker failed", map[string]interface{}{
			"userId": msg.Message.UserID,
			"error":  err.Error(),
		})
	}
}

// capForRetry halves the candidate cap per redelivery, floored at 100.
func (d *Dispatcher) capForRetry(retry int) int {
	if retry <= 0 || d.candidateCap <= 0 {
		return 0
	}
	reduced := d.candidateCap >> retry
	if reduced < 100 {
		reduced = 100
	}
	return reduced
}

func triggerFor(reason string) string {
	switch reason {
	case ReasonWantChanged, ReasonHaveChanged, ReasonReferencing:
		return "list-change"
	case ReasonScheduled:
		return "scheduled"
	default:
		return "manual"
	}
}
