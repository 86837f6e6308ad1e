package retry

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryInvokesThunkAfterDelay(t *testing.T) {
	h := NewHandler(Config{MaxAttempts: 3, BaseInterval: 5 * time.Millisecond})
	var called int32
	done := make(chan struct{})
	h.Retry(func() {
		atomic.StoreInt32(&called, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("thunk never fired")
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&called))
}

func TestCancelPreventsThunk(t *testing.T) {
	h := NewHandler(Config{MaxAttempts: 3, BaseInterval: 20 * time.Millisecond})
	var called int32
	h.Retry(func() { atomic.StoreInt32(&called, 1) })
	h.Cancel()

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&called))
}

func TestLimitReached(t *testing.T) {
	h := NewHandler(Config{MaxAttempts: 2, BaseInterval: time.Millisecond})
	require.False(t, h.LimitReached())
	h.Retry(func() {})
	require.False(t, h.LimitReached())
	h.Retry(func() {})
	require.True(t, h.LimitReached())
}

func TestResetClearsAttempts(t *testing.T) {
	h := NewHandler(Config{MaxAttempts: 1, BaseInterval: time.Millisecond})
	h.Retry(func() {})
	require.True(t, h.LimitReached())
	h.Reset()
	require.False(t, h.LimitReached())
}

func TestOnlyOneOutstandingTimer(t *testing.T) {
	h := NewHandler(Config{MaxAttempts: 5, BaseInterval: 30 * time.Millisecond})
	var fireCount int32
	h.Retry(func() { atomic.AddInt32(&fireCount, 1) })
	// Replace the pending timer before it fires.
	h.Retry(func() { atomic.AddInt32(&fireCount, 1) })

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&fireCount))
}
