//go:build deadlock

// Package syncutil holds the lock types shared by the protocol engines.
// Building with -tags deadlock swaps them for go-deadlock instrumented
// versions, which report a lock held across a hung serial read.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// DeadlockDetection reports whether the instrumented locks are compiled in.
const DeadlockDetection = true

func init() {
	// a single exchange never holds the link for more than a few read timeouts
	deadlock.Opts.DeadlockTimeout = 20 * time.Second
}

// Mutex guards a serial link or engine state.
type Mutex struct {
	deadlock.Mutex
}
