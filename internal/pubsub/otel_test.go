package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingSpansPublishAndProcess(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	bridge := NewWatermillBridge(Config{BlockPublishUntilAck: true, Tracer: tp.Tracer("test")})
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Message, 1)
	require.NoError(t, bridge.Subscribe(ctx, "quickchat.rows", func(ctx context.Context, msg Message) error {
		got <- msg
		return nil
	}))

	require.NoError(t, bridge.Publish(ctx, Message{Topic: "quickchat.rows", UserID: "abc", Payload: []byte(`{"table":"room"}`)}))

	select {
	case msg := <-got:
		assert.Equal(t, "abc", msg.UserID)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	require.Eventually(t, func() bool { return len(recorder.Ended()) >= 2 }, time.Second, 10*time.Millisecond)
	names := make([]string, 0, 2)
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.Contains(t, names, "pubsub.publish.quickchat.rows")
	assert.Contains(t, names, "pubsub.process.quickchat.rows")
}

func TestSetupOTel(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled tracing", func(t *testing.T) {
		tracer, cleanup, err := SetupOTel(ctx, TracingConfig{Enabled: false})
		require.NoError(t, err)
		require.NotNil(t, tracer)

		_, span := tracer.Start(ctx, "test")
		span.End()
		assert.False(t, span.SpanContext().IsValid())
		cleanup()
	})

	t.Run("enabled tracing with unreachable collector", func(t *testing.T) {
		tracer, cleanup, err := SetupOTel(ctx, TracingConfig{
			Enabled:     true,
			ServiceName: "test-service",
			ZipkinURL:   "http://invalid-url:9411/api/v2/spans",
		})
		require.NoError(t, err)
		require.NotNil(t, tracer)
		cleanup()
	})
}

func TestLoadTracingConfigFromEnv(t *testing.T) {
	t.Setenv("PUBSUB_TRACING_ENABLED", "true")
	t.Setenv("PUBSUB_TRACING_SERVICE_NAME", "chat-test")
	t.Setenv("PUBSUB_TRACING_ZIPKIN_URL", "")

	cfg := LoadTracingConfigFromEnv()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "chat-test", cfg.ServiceName)
	assert.Equal(t, DefaultTracingConfig().ZipkinURL, cfg.ZipkinURL)
}
