//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_PublishSubscribe(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	require.True(t, tc.Client.IsHealthy())
	assert.True(t, tc.Client.Health().IsHealthy())

	got := make(chan []byte, 1)
	sub, err := tc.Client.Subscribe(ctx, "sight.test", func(_ context.Context, data []byte) {
		got <- data
	})
	require.NoError(t, err)

	require.NoError(t, tc.Client.Publish(ctx, "sight.test", []byte("hello")))
	select {
	case data := <-got:
		assert.Equal(t, "hello", string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, tc.Client.Publish(ctx, "sight.test", []byte("ignored")))
	require.NoError(t, tc.Client.Flush(ctx))
	select {
	case <-got:
		t.Fatal("message delivered after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestIntegration_Close(t *testing.T) {
	tc := NewTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tc.Client.Close(ctx))
	assert.Equal(t, StatusDisconnected, tc.Client.Status())
	assert.ErrorIs(t, tc.Client.Publish(ctx, "sight.test", nil), ErrNotConnected)
}
