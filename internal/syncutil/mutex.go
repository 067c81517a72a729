//go:build !deadlock

// Package syncutil holds the lock types shared by the protocol engines.
// Building with -tags deadlock swaps them for go-deadlock instrumented
// versions, which report a lock held across a hung serial read.
package syncutil

import "sync"

// DeadlockDetection reports whether the instrumented locks are compiled in.
const DeadlockDetection = false

// Mutex guards a serial link or engine state.
type Mutex struct {
	sync.Mutex
}
