package events

import (
	"context"
	"encoding/json"
	"fmt"

	"sentra/backend/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisBus fans events out through a Redis channel so every server instance
// delivers them to its local subscribers.
type RedisBus struct {
	client  *redis.Client
	channel string
	local   *Bus
	log     *logger.Logger
}

// NewRedisClient connects to addr
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisBus wraps a local bus with Redis fan-out
func NewRedisBus(client *redis.Client, channel string, local *Bus, log *logger.Logger) *RedisBus {
	return &RedisBus{
		client:  client,
		channel: channel,
		local:   local,
		log:     log.With("component", "redis_bus"),
	}
}

// Publish sends ev to the channel. Local delivery happens when it comes back through Run.
func (r *RedisBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Run relays channel messages to the local bus until ctx is done
func (r *RedisBus) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info("Subscribed to event channel", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.log.Warn("Dropping malformed event", "error", err.Error())
				continue
			}
			r.local.dispatch(ev)
		}
	}
}

// Ping checks the connection
func (r *RedisBus) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
