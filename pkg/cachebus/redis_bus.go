package cachebus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus over a Redis pub/sub channel.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus creates a bus backed by Redis.
func NewRedisBus(addr, password string, db int) *RedisBus {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisBus{client: rdb}
}

// NewRedisBusWithClient wraps an existing client, for shared connections.
func NewRedisBusWithClient(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, key string) error {
	if err := b.client.Publish(ctx, InvalidationChannel, key).Err(); err != nil {
		return fmt.Errorf("redis publish invalidation: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, h Handler) (func(), error) {
	sub := b.client.Subscribe(ctx, InvalidationChannel)

	// Force the subscription to be established before returning so callers
	// cannot miss keys published right after Subscribe.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", InvalidationChannel, err)
	}

	ch := sub.Channel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ch {
			h(msg.Payload)
		}
	}()

	stop := func() {
		_ = sub.Close()
		<-done
	}
	return stop, nil
}

// Close releases the underlying client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
