// Package atexit runs cleanup callbacks when the process is interrupted.
package atexit

import (
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	"github.com/samber/lo"
)

var (
	mtx        sync.Mutex
	callbacks  = map[uint64]func(){}
	nextID     uint64
	once       sync.Once
	signalChan = make(chan os.Signal, 1)

	// exit is replaced in tests.
	exit = os.Exit
)

func initSignalHandler() {
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChan
		signal.Stop(signalChan)
		run()
		exit(1)
	}()
}

// Register adds cb to the callbacks run on SIGINT or SIGTERM, after which
// the process exits. The returned function removes cb again; calling it more
// than once is harmless.
func Register(cb func()) (unregister func()) {
	once.Do(initSignalHandler)
	mtx.Lock()
	id := nextID
	nextID++
	callbacks[id] = cb
	mtx.Unlock()
	return func() {
		mtx.Lock()
		delete(callbacks, id)
		mtx.Unlock()
	}
}

// Wait runs the callbacks still registered, in registration order, without
// exiting.
func Wait() {
	run()
}

func run() {
	mtx.Lock()
	ids := lo.Keys(callbacks)
	slices.Sort(ids)
	pending := lo.Map(ids, func(id uint64, _ int) func() { return callbacks[id] })
	callbacks = map[uint64]func(){}
	mtx.Unlock()
	for _, cb := range pending {
		cb()
	}
}
