package cachebus_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoserve/actionkernel/pkg/cachebus"
)

func TestMemoryBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := cachebus.NewMemoryBus()
	ctx := context.Background()

	var a, b []string
	stopA, err := bus.Subscribe(ctx, func(key string) { a = append(a, key) })
	require.NoError(t, err)
	defer stopA()
	stopB, err := bus.Subscribe(ctx, func(key string) { b = append(b, key) })
	require.NoError(t, err)
	defer stopB()

	require.NoError(t, bus.Publish(ctx, "bots/bot1/actions/a.go"))

	assert.Equal(t, []string{"bots/bot1/actions/a.go"}, a)
	assert.Equal(t, []string{"bots/bot1/actions/a.go"}, b)
}

func TestMemoryBus_StopUnsubscribes(t *testing.T) {
	bus := cachebus.NewMemoryBus()
	ctx := context.Background()

	var got []string
	stop, err := bus.Subscribe(ctx, func(key string) { got = append(got, key) })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "one"))
	stop()
	require.NoError(t, bus.Publish(ctx, "two"))

	assert.Equal(t, []string{"one"}, got)
}
