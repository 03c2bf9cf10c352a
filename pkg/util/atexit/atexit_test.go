package atexit

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWait(t *testing.T) {
	var calls []int
	Register(func() { calls = append(calls, 1) })
	unregister := Register(func() { calls = append(calls, 2) })
	Register(func() { calls = append(calls, 3) })

	unregister()
	unregister()
	Wait()
	assert.Equal(t, []int{1, 3}, calls)

	// Callbacks run once.
	Wait()
	assert.Equal(t, []int{1, 3}, calls)
}

func TestSignal(t *testing.T) {
	exited := make(chan int, 1)
	exit = func(code int) { exited <- code }
	t.Cleanup(func() { exit = os.Exit })

	ran := make(chan struct{})
	Register(func() { close(ran) })
	signalChan <- syscall.SIGTERM

	select {
	case code := <-exited:
		assert.Equal(t, 1, code)
	case <-time.After(5 * time.Second):
		require.Fail(t, "signal handler did not exit")
	}
	select {
	case <-ran:
	default:
		require.Fail(t, "callback did not run before exit")
	}
}
