//go:build !linux

package affinity

// Pin is a no-op outside Linux: no portable affinity syscall exists, and
// correctness never depends on pinning succeeding.
func Pin(core int) {}
