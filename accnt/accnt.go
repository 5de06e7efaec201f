// Package accnt tracks per-thread CPU-time usage, reported through the
// D_STAT device (diag) rather than a wait4-style rusage syscall: there
// is no process-reaping syscall here, only a live introspection device.
package accnt

import "sync/atomic"

/// Accnt_t accumulates per-thread accounting information. Userns and
/// Sysns store runtime in nanoseconds.
type Accnt_t struct {
	/// Nanoseconds of user time consumed.
	Userns int64
	/// Nanoseconds of system time consumed.
	Sysns int64
}

/// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta int) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

/// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta int) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}
