//go:build !linux

package cpuinfo

import "runtime"

// detectPlatform has no portable cache/topology source outside Linux; it
// reports logical-core count only and lets Detect fill in the rest.
func detectPlatform() Info {
	n := runtime.NumCPU()
	return Info{LogicalCPUs: n, PhysicalCPUs: n}
}
