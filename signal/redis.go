package signal

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisIngress subscribes to a Redis Pub/Sub channel carrying completion
// events, for deployments where Retell webhooks are fanned out through
// Redis instead of hitting each pod directly. The caller owns the client
// lifecycle.
type RedisIngress struct {
	client  *redis.Client
	channel string
	handler *Handler
	logger  *slog.Logger
}

// NewRedisIngress creates a subscriber for the given channel.
func NewRedisIngress(client *redis.Client, channel string, handler *Handler, logger *slog.Logger) *RedisIngress {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisIngress{
		client:  client,
		channel: channel,
		handler: handler,
		logger:  logger,
	}
}

// Run consumes completion events until ctx is cancelled. Malformed
// messages are logged and dropped; a lost message is recovered later by
// the staleness sweep.
func (ri *RedisIngress) Run(ctx context.Context) error {
	sub := ri.client.Subscribe(ctx, ri.channel)
	defer sub.Close()

	// Fail fast if the subscription could not be established.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ri.logger.Info("completion ingress subscribed", slog.String("channel", ri.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var c Completion
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				ri.logger.Warn("malformed completion event",
					slog.String("channel", ri.channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := ri.handler.Handle(ctx, c); err != nil {
				ri.logger.Error("completion event failed",
					slog.String("call_ref", c.CallRef),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
