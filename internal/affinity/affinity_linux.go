//go:build linux

// Package affinity optionally pins sieve worker goroutines to specific CPU
// cores, improving cache locality for the per-worker bitset and bucket ring.
// Pinning is best-effort: failures are silently ignored, since correctness
// never depends on it.
package affinity

import "golang.org/x/sys/unix"

// Pin restricts the calling OS thread to the given core; it does not lock
// the goroutine to that thread. Callers must call runtime.LockOSThread
// themselves before Pin and must never unlock it afterward, since an
// unlocked goroutine could migrate off the pinned thread.
func Pin(core int) {
	if core < 0 {
		return
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	_ = unix.SchedSetaffinity(0, &set)
}
