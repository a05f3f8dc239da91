package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"content-regions/errors"
)

// redisPublisher is the part of the redis client the publisher needs
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

// EventEnvelope is the JSON document pushed to the notification channel
type EventEnvelope struct {
	Type       EventType `json:"type"`
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Event      Event     `json:"event"`
}

// RedisEventPublisher forwards bus events to a Redis pub/sub channel so that
// other processes can react to reflows
type RedisEventPublisher struct {
	client  redisPublisher
	closer  func() error
	channel string
	retry   *errors.Retryer
	logger  Logger
}

// NewRedisEventPublisher dials addr and verifies the connection
func NewRedisEventPublisher(ctx context.Context, addr, channel string, logger Logger) (*RedisEventPublisher, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.NewExternalServiceError(
			errors.ErrCodePublishFailed,
			fmt.Sprintf("redis ping %s", addr),
			err,
		)
	}

	publisher := newRedisEventPublisher(rdb, channel, logger)
	publisher.closer = rdb.Close
	return publisher, nil
}

func newRedisEventPublisher(client redisPublisher, channel string, logger Logger) *RedisEventPublisher {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &RedisEventPublisher{
		client:  client,
		channel: channel,
		retry:   errors.NewRetryer(errors.ExternalServiceRetryConfig()),
		logger:  logger.With(String("component", "redis_publisher"), String("channel", channel)),
	}
}

func (p *RedisEventPublisher) Name() string { return "redis_publisher" }

// Handle publishes the event, retrying transient failures
func (p *RedisEventPublisher) Handle(ctx context.Context, event Event) error {
	meta := event.Meta()
	raw, err := json.Marshal(EventEnvelope{
		Type:       event.Type(),
		ID:         meta.ID,
		OccurredAt: meta.OccurredAt,
		Event:      event,
	})
	if err != nil {
		return errors.NewInternalError(errors.ErrCodePublishFailed, "encode event", err)
	}

	return p.retry.Execute(ctx, func() error {
		if err := p.client.Publish(ctx, p.channel, raw).Err(); err != nil {
			p.logger.Debug("redis publish attempt failed",
				String("event", string(event.Type())),
				String("error", err.Error()))
			return errors.NewExternalServiceError(errors.ErrCodePublishFailed, "redis publish", err)
		}
		return nil
	})
}

// Close releases the redis connection
func (p *RedisEventPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
