// Package cachebus is the boundary to the key/value cache's invalidation
// channel. Every write to underlying content emits the affected key; delivery
// is at-least-once and duplicates must be tolerated by subscribers.
package cachebus

import "context"

// InvalidationChannel is the pub/sub channel invalidation keys arrive on.
const InvalidationChannel = "actionkernel:invalidation"

// Handler receives one invalidation key per call.
type Handler func(key string)

// Bus is the invalidation pub/sub contract. Subscribe registers a handler and
// returns a stop function; no acknowledgement protocol exists.
type Bus interface {
	Publish(ctx context.Context, key string) error
	Subscribe(ctx context.Context, h Handler) (stop func(), err error)
}
