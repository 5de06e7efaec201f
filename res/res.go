// Package res implements a simple counting reservation used to
// admission-control a multi-step sequence before it starts, so the
// sequence either reserves everything it could possibly need up front
// or fails atomically instead of partway through.
package res

import "sync"

var (
	mu        sync.Mutex
	available int
)

/// SetTotal configures the total number of reservable units (called
/// once during boot with the number of free frames at the time).
func SetTotal(n int) {
	mu.Lock()
	available = n
	mu.Unlock()
}

/// Resadd_noblock tries to reserve n units without blocking. It returns
/// false if fewer than n units are currently available, in which case
/// the caller must not proceed with the sequence it was guarding.
func Resadd_noblock(n int) bool {
	mu.Lock()
	defer mu.Unlock()
	if available < n {
		return false
	}
	available -= n
	return true
}

/// Resfree releases n previously reserved units back to the pool.
func Resfree(n int) {
	mu.Lock()
	available += n
	mu.Unlock()
}

/// Available reports the current number of unreserved units, for tests
/// and diagnostics.
func Available() int {
	mu.Lock()
	defer mu.Unlock()
	return available
}
