// internal/recompute/queue.go
package recompute

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cardtrade-workers/internal/common/logger"
	"cardtrade-workers/internal/common/metrics"
)

// Queue wraps a Redis Stream carrying recompute requests. Producers are
// the invalidation path and the scheduler; consumers are dispatcher
// workers reading through a consumer group.
type Queue struct {
	rdb       *redis.Client
	logger    logger.Logger
	stream    string
	dedupeTTL time.Duration
}

// QueueOption customizes a Queue.
type QueueOption func(*Queue)

// WithDedupeTTL bounds how long a user's in-flight marker suppresses
// duplicate tokens when no ack ever clears it. Zero disables dedupe.
func WithDedupeTTL(d time.Duration) QueueOption {
	return func(q *Queue) { q.dedupeTTL = d }
}

func NewQueue(rdb *redis.Client, log logger.Logger, stream string, opts ...QueueOption) *Queue {
	if stream == "" {
		stream = "cardtrade:recompute"
	}
	q := &Queue{
		rdb:       rdb,
		logger:    log.WithFields(map[string]interface{}{"stream": stream}),
		stream:    stream,
		dedupeTTL: time.Minute,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Publish appends a recompute request to the stream. A user with a token
// already in flight is not enqueued again: one run covers every mutation
// that happened before it started, so the extra tokens buy nothing. The
// marker clears on ack, or lapses after the TTL if the consumer dies with
// it set. Redeliveries bypass the guard so retries are never swallowed.
func (q *Queue) Publish(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	guarded := msg.Retry == 0 && q.dedupeTTL > 0
	if guarded {
		set, err := q.rdb.SetNX(ctx, q.inFlightKey(msg.UserID), "1", q.dedupeTTL).Result()
		if err != nil {
			return fmt.Errorf("dedupe check failed: %w", err)
		}
		if !set {
			q.logger.Debug("duplicate recompute suppressed", map[string]interface{}{
				"userId": msg.UserID,
			})
			return nil
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal recompute message: %w", err)
	}

	if err := q.publishRaw(ctx, q.stream, map[string]interface{}{
		"data": string(data),
	}); err != nil {
		if guarded {
			q.rdb.Del(ctx, q.inFlightKey(msg.UserID))
		}
		return err
	}
	return nil
}

func (q *Queue) inFlightKey(userID string) string {
	return q.stream + ":inflight:" + userID
}

// ClearInFlight releases the publish guard for a user, letting the next
// mutation enqueue a fresh token.
func (q *Queue) ClearInFlight(ctx context.Context, userID string) error {
	if err := q.rdb.Del(ctx, q.inFlightKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear in-flight marker: %w", err)
	}
	return nil
}

func (q *Queue) publishRaw(ctx context.Context, stream string, values map[string]interface{}) error {
	msgID, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: 100000,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}

	q.logger.Debug("recompute message published", map[string]interface{}{
		"msgId": msgID,
	})
	return nil
}

// CreateConsumerGroup creates the group if it does not exist yet.
func (q *Queue) CreateConsumerGroup(ctx context.Context, groupName string) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.stream, groupName, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Length returns the number of messages currently in the stream.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	length, err := q.rdb.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen failed: %w", err)
	}
	return length, nil
}

// FailureAction reports how HandleFailure disposed of a message.
type FailureAction string

const (
	FailureActionNone  FailureAction = "none"
	FailureActionRetry FailureAction = "retry"
	FailureActionDLQ   FailureAction = "dlq"
)

// Consumer reads recompute requests through a consumer group. Pending
// messages abandoned by a dead consumer are reclaimed before new ones are
// read, so a crashed worker never strands requests.
type Consumer struct {
	queue            *Queue
	logger           logger.Logger
	groupName        string
	consumerID       string
	blockTime        time.Duration
	batchSize        int64
	pendingIdle      time.Duration
	pendingStart     string
	deadLetterStream string
	maxRetry         int
}

// ConsumerOption customizes a Consumer.
type ConsumerOption func(*Consumer)

// WithBlockTime sets how long a read blocks waiting for new messages.
func WithBlockTime(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.blockTime = d }
}

// WithBatchSize sets how many messages one read returns at most.
func WithBatchSize(size int64) ConsumerOption {
	return func(c *Consumer) { c.batchSize = size }
}

// WithPendingIdle sets the minimum idle time before a pending message is
// reclaimed from another consumer.
func WithPendingIdle(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.pendingIdle = d }
}

// WithDeadLetterStream sets the dead letter stream name.
func WithDeadLetterStream(stream string) ConsumerOption {
	return func(c *Consumer) { c.deadLetterStream = stream }
}

// WithMaxRetry sets how many redeliveries a message gets before the dead
// letter stream.
func WithMaxRetry(maxRetry int) ConsumerOption {
	return func(c *Consumer) { c.maxRetry = maxRetry }
}

func NewConsumer(queue *Queue, log logger.Logger, groupName, consumerID string, opts ...ConsumerOption) (*Consumer, error) {
	if groupName == "" {
		return nil, fmt.Errorf("group name is required")
	}
	if consumerID == "" {
		consumerID = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}

	c := &Consumer{
		queue:            queue,
		logger:           log.WithFields(map[string]interface{}{"group": groupName, "consumerId": consumerID}),
		groupName:        groupName,
		consumerID:       consumerID,
		blockTime:        5 * time.Second,
		batchSize:        10,
		pendingIdle:      time.Minute,
		pendingStart:     "0-0",
		deadLetterStream: queue.stream + ":dead",
		maxRetry:         3,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := queue.CreateConsumerGroup(context.Background(), groupName); err != nil {
		return nil, err
	}
	return c, nil
}

// MessageWithID pairs a parsed message with its stream entry ID.
type MessageWithID struct {
	ID      string
	Message *Message
}

// Read returns the next batch: reclaimed pending messages first, then new
// ones. A nil, nil return means the block timed out with nothing to do.
func (c *Consumer) Read(ctx context.Context) ([]*MessageWithID, error) {
	pending, err := c.readPending(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return pending, nil
	}
	return c.readNew(ctx)
}

func (c *Consumer) readPending(ctx context.Context) ([]*MessageWithID, error) {
	messages, nextStart, err := c.queue.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.queue.stream,
		Group:    c.groupName,
		Consumer: c.consumerID,
		MinIdle:  c.pendingIdle,
		Start:    c.pendingStart,
		Count:    c.batchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim failed: %w", err)
	}
	if nextStart != "" {
		c.pendingStart = nextStart
	}
	return c.parseMessages(ctx, messages)
}

func (c *Consumer) readNew(ctx context.Context) ([]*MessageWithID, error) {
	streams, err := c.queue.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.groupName,
		Consumer: c.consumerID,
		Streams:  []string{c.queue.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockTime,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup failed: %w", err)
	}

	var messages []redis.XMessage
	for _, stream := range streams {
		messages = append(messages, stream.Messages...)
	}
	return c.parseMessages(ctx, messages)
}

func (c *Consumer) parseMessages(ctx context.Context, messages []redis.XMessage) ([]*MessageWithID, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	parsed := make([]*MessageWithID, 0, len(messages))
	for _, msg := range messages {
		data, ok := msg.Values["data"].(string)
		if !ok || data == "" {
			c.logger.Warn("invalid recompute message", map[string]interface{}{"msgId": msg.ID})
			c.handlePoison(ctx, msg.ID, fmt.Sprintf("%v", msg.Values["data"]), "invalid message format")
			continue
		}

		var m Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			c.logger.Error("parse recompute message failed", map[string]interface{}{
				"msgId": msg.ID,
				"error": err.Error(),
			})
			c.handlePoison(ctx, msg.ID, data, err.Error())
			continue
		}

		parsed = append(parsed, &MessageWithID{ID: msg.ID, Message: &m})
	}
	return parsed, nil
}

// Ack confirms a message was processed.
func (c *Consumer) Ack(ctx context.Context, msgID string) error {
	if err := c.queue.rdb.XAck(ctx, c.queue.stream, c.groupName, msgID).Err(); err != nil {
		return fmt.Errorf("xack failed: %w", err)
	}
	return nil
}

// HandleFailure requeues a failed message with its retry count bumped, or
// moves it to the dead letter stream once retries are exhausted. Either
// way the original entry is acked.
func (c *Consumer) HandleFailure(ctx context.Context, msg *MessageWithID, cause error) (FailureAction, error) {
	if msg == nil || msg.Message == nil {
		return FailureActionNone, fmt.Errorf("message is nil")
	}

	msg.Message.Retry++
	if msg.Message.Retry > c.maxRetry {
		if err := c.publishDeadLetter(ctx, msg.ID, msg.Message, cause); err != nil {
			return FailureActionDLQ, err
		}
		if err := c.queue.ClearInFlight(ctx, msg.Message.UserID); err != nil {
			c.logger.Warn("clear in-flight marker failed", map[string]interface{}{
				"userId": msg.Message.UserID,
				"error":  err.Error(),
			})
		}
		return FailureActionDLQ, c.Ack(ctx, msg.ID)
	}

	if err := c.queue.Publish(ctx, msg.Message); err != nil {
		return FailureActionRetry, err
	}
	return FailureActionRetry, c.Ack(ctx, msg.ID)
}

func (c *Consumer) handlePoison(ctx context.Context, msgID, payload, reason string) {
	if err := c.publishDeadLetter(ctx, msgID, payload, fmt.Errorf("%s", reason)); err != nil {
		c.logger.Error("publish dead letter failed", map[string]interface{}{
			"msgId": msgID,
			"error": err.Error(),
		})
	}
	if err := c.Ack(ctx, msgID); err != nil {
		c.logger.Error("ack poison message failed", map[string]interface{}{
			"msgId": msgID,
			"error": err.Error(),
		})
	}
}

func (c *Consumer) publishDeadLetter(ctx context.Context, msgID string, payload interface{}, cause error) error {
	raw := payload
	if msg, ok := payload.(*Message); ok {
		if data, err := json.Marshal(msg); err == nil {
			raw = string(data)
		}
	}
	return c.queue.publishRaw(ctx, c.deadLetterStream, map[string]interface{}{
		"original_id": msgID,
		"payload":     raw,
		"reason":      cause.Error(),
		"failed_at":   time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Pending reports the consumer group's unacked message count and updates
// the queue depth gauge.
func (c *Consumer) Pending(ctx context.Context) (int64, error) {
	info, err := c.queue.rdb.XPending(ctx, c.queue.stream, c.groupName).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending failed: %w", err)
	}
	metrics.RecomputeQueueDepth.Set(float64(info.Count))
	return info.Count, nil
}
