package membus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chathub/relay/internal/bus/membus"
)

func TestPublishSubscribeWildcard(t *testing.T) {
	b := membus.New()
	sub, err := b.SubscribePattern(context.Background(), "chat.>")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(context.Background(), "chat.g1", []byte("hi")))

	select {
	case ev := <-sub.Events():
		require.Equal(t, "chat.g1", ev.Topic)
		require.Equal(t, "hi", string(ev.Data))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := membus.New()
	sub, err := b.SubscribePattern(context.Background(), "chat.>")
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	_, ok := <-sub.Events()
	require.False(t, ok)
}
