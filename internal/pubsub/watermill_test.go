package pubsub

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeDeliversInPublishOrder(t *testing.T) {
	bridge := NewWatermillBridge(Config{BlockPublishUntilAck: true})
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const n = 50
	var (
		mu   sync.Mutex
		seen = map[string][]string{}
		done sync.WaitGroup
	)
	done.Add(2 * n)
	for _, name := range []string{"a", "b"} {
		name := name
		require.NoError(t, bridge.Subscribe(ctx, "rows", func(ctx context.Context, msg Message) error {
			mu.Lock()
			seen[name] = append(seen[name], string(msg.Payload))
			mu.Unlock()
			done.Done()
			return nil
		}))
	}

	want := make([]string, n)
	for i := 0; i < n; i++ {
		want[i] = strconv.Itoa(i)
		require.NoError(t, bridge.Publish(ctx, Message{Topic: "rows", Payload: []byte(want[i])}))
	}
	done.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen["a"])
	assert.Equal(t, want, seen["b"])
}

func TestBridgeKeepsMetadata(t *testing.T) {
	bridge := NewWatermillBridge(Config{})
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Message, 1)
	require.NoError(t, bridge.Subscribe(ctx, "rows", func(ctx context.Context, msg Message) error {
		got <- msg
		return nil
	}))

	require.NoError(t, bridge.Publish(ctx, Message{
		Topic:    "rows",
		UserID:   "u1",
		Payload:  []byte("x"),
		Metadata: map[string]string{"table": "room"},
	}))

	select {
	case msg := <-got:
		assert.Equal(t, "rows", msg.Topic)
		assert.Equal(t, "u1", msg.UserID)
		assert.Equal(t, "room", msg.Metadata["table"])
		assert.NotContains(t, msg.Metadata, metaKeyTopic)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBridgeHandlerErrorDoesNotStall(t *testing.T) {
	bridge := NewWatermillBridge(Config{BlockPublishUntilAck: true})
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls int
	var mu sync.Mutex
	require.NoError(t, bridge.Subscribe(ctx, "rows", func(ctx context.Context, msg Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("boom")
	}))

	require.NoError(t, bridge.Publish(ctx, Message{Topic: "rows"}))
	require.NoError(t, bridge.Publish(ctx, Message{Topic: "rows"}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestBridgeStopsDeliveringAfterCancel(t *testing.T) {
	bridge := NewWatermillBridge(Config{BlockPublishUntilAck: true})
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Message, 4)
	require.NoError(t, bridge.Subscribe(ctx, "rows", func(ctx context.Context, msg Message) error {
		got <- msg
		return nil
	}))
	cancel()

	// Publishing must not block on the canceled subscriber.
	require.Eventually(t, func() bool {
		return bridge.Publish(context.Background(), Message{Topic: "rows"}) == nil
	}, time.Second, 10*time.Millisecond)
}
