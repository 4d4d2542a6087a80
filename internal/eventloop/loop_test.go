package eventloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)
	return l
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	l := startLoop(t)

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}

	var n int
	require.NoError(t, l.Do(context.Background(), func() { n = len(got) }))
	assert.Equal(t, 100, n)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopTasksCanPostFromLoop(t *testing.T) {
	l := startLoop(t)

	var order []string
	require.NoError(t, l.Do(context.Background(), func() {
		l.Post(func() {
			order = append(order, "outer")
			l.Post(func() { order = append(order, "inner") })
		})
		l.Post(func() { order = append(order, "second") })
	}))

	require.Eventually(t, func() bool {
		var n int
		_ = l.Do(context.Background(), func() { n = len(order) })
		return n == 3
	}, time.Second, 5*time.Millisecond)

	var snapshot []string
	require.NoError(t, l.Do(context.Background(), func() { snapshot = append(snapshot, order...) }))
	assert.Equal(t, []string{"outer", "second", "inner"}, snapshot)
}

func TestLoopRecoversFromPanics(t *testing.T) {
	l := startLoop(t)

	l.Post(func() { panic("boom") })

	ran := false
	require.NoError(t, l.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestDoAfterStop(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	err := l.Do(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrStopped)
}
