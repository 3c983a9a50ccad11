package stage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evenDoubler(in int) (int, bool) {
	if in%2 != 0 {
		return 0, false
	}
	return in * 2, true
}

func TestStage_SpinOnceSequential(t *testing.T) {
	out := NewQueue[int]("out", 0)
	s := New(Config{Name: "seq"}, evenDoubler, out)
	assert.False(t, s.Parallel())
	assert.False(t, s.SpinOnce(), "nothing queued")

	s.Input().Push(1)
	s.Input().Push(2)
	assert.True(t, s.SpinOnce())
	assert.True(t, s.SpinOnce())
	assert.False(t, s.SpinOnce())

	require.Equal(t, 1, out.Len())
	v, _ := out.Pop()
	assert.Equal(t, 4, v)
}

func TestStage_SpinParallel(t *testing.T) {
	out := NewQueue[int]("out", 0)
	s := New(Config{Name: "par", Parallel: true}, evenDoubler, out)
	require.True(t, s.Parallel())

	errc := make(chan error, 1)
	go func() { errc <- s.Spin(context.Background()) }()

	for i := 0; i < 4; i++ {
		s.Input().Push(i)
	}
	for _, want := range []int{0, 4} {
		v, ok := out.PopBlocking()
		require.True(t, ok)
		assert.Equal(t, want, v)
	}

	s.Shutdown()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Spin did not return after Shutdown")
	}
	assert.False(t, s.SpinOnce())
}

func TestStage_ContextCancelShutsDown(t *testing.T) {
	var hookCalls atomic.Int32
	s := New(Config{Name: "ctx", Parallel: true}, evenDoubler, NewQueue[int]("out", 0),
		func() { hookCalls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Spin(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Spin did not return after cancel")
	}
	assert.True(t, s.IsShutdown())

	s.Shutdown()
	assert.Equal(t, int32(1), hookCalls.Load(), "hooks run once")
}

func TestStage_ShutdownLeavesOutputOpen(t *testing.T) {
	out := NewQueue[int]("out", 0)
	s := New(Config{Name: "drain"}, evenDoubler, out)
	s.Input().Push(2)
	s.SpinOnce()
	s.Shutdown()

	assert.True(t, s.Input().IsShutdown())
	assert.False(t, out.IsShutdown())
	v, ok := out.Pop()
	require.True(t, ok)
	assert.Equal(t, 4, v)
	assert.Equal(t, "drain", s.Name())
	assert.Same(t, out, s.Output())
}
