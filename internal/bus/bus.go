// Package bus connects skillgate to Redis Streams: dispatch reports are
// published, and external producers can raise triggers.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/skillgate/internal/dispatch"
	"github.com/nidhogg/skillgate/internal/trigger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultPrefix = "skillgate:"

	reportsStream  = "reports"
	triggersStream = "triggers"
	maxReports     = 1000
)

// TriggerMessage is the wire form of an externally raised trigger.
type TriggerMessage struct {
	Trigger string          `json:"trigger"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Source  string          `json:"source,omitempty"`
}

// Bus publishes and consumes skillgate streams.
type Bus struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// New connects to Redis at redisURL. An empty prefix uses DefaultPrefix.
func New(ctx context.Context, redisURL, prefix string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(rdb, prefix, logger), nil
}

// NewWithClient wraps an existing client. Stream names are prefix+"reports"
// and prefix+"triggers".
func NewWithClient(rdb *redis.Client, prefix string, logger *zap.Logger) *Bus {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Bus{rdb: rdb, prefix: prefix, logger: logger}
}

// Record publishes a dispatch report to the reports stream.
func (b *Bus) Record(ctx context.Context, r *dispatch.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	stream := b.prefix + reportsStream
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxReports,
		Approx: true,
		Values: map[string]interface{}{
			"trigger": r.Trigger,
			"data":    string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}
	b.logger.Debug("published report", zap.String("report", r.ID.String()), zap.String("trigger", r.Trigger))
	return nil
}

// PublishTrigger appends a trigger to the triggers stream.
func (b *Bus) PublishTrigger(ctx context.Context, msg *TriggerMessage) error {
	if msg.Trigger == "" {
		return errors.New("trigger name is required")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	stream := b.prefix + triggersStream
	if _, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"data": string(data)},
	}).Result(); err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}
	return nil
}

// ConsumeTriggers reads the triggers stream from now on and raises each
// trigger through fire. It blocks until ctx is cancelled.
func (b *Bus) ConsumeTriggers(ctx context.Context, fire trigger.DispatchFunc) error {
	stream := b.prefix + triggersStream
	lastID := "$"
	b.logger.Info("consuming triggers", zap.String("stream", stream))

	for {
		if ctx.Err() != nil {
			return nil
		}

		results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   10,
			Block:   2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if !errors.Is(err, redis.Nil) {
				b.logger.Warn("trigger stream read failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Second):
				}
			}
			continue
		}

		for _, r := range results {
			for _, msg := range r.Messages {
				lastID = msg.ID
				name, payload, err := decodeTrigger(msg.Values)
				if err != nil {
					b.logger.Warn("dropping malformed trigger", zap.String("id", msg.ID), zap.Error(err))
					continue
				}
				fire(ctx, name, payload)
			}
		}
	}
}

func decodeTrigger(values map[string]interface{}) (string, any, error) {
	data, ok := values["data"].(string)
	if !ok {
		return "", nil, errors.New("missing data field")
	}
	var tm TriggerMessage
	if err := json.Unmarshal([]byte(data), &tm); err != nil {
		return "", nil, fmt.Errorf("decode trigger: %w", err)
	}
	if tm.Trigger == "" {
		return "", nil, errors.New("trigger name is required")
	}
	payload, err := trigger.DecodePayload(tm.Trigger, tm.Payload)
	if err != nil {
		return "", nil, err
	}
	return tm.Trigger, payload, nil
}

// Ping checks the Redis connection.
func (b *Bus) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

var _ dispatch.Sink = (*Bus)(nil)
