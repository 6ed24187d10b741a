// Package cpuinfo provides best-effort detection of CPU topology and cache
// sizes, feeding the segment-sizing heuristics in internal/segmenter and the
// default thread count used by internal/rangerunner.
package cpuinfo

import "runtime"

// Info describes the hardware a run executes on. All fields are best-effort:
// a probing failure degrades to a conservative default rather than an error,
// since no component treats CpuInfo as authoritative — only as a sizing hint.
type Info struct {
	LogicalCPUs  int
	PhysicalCPUs int
	L1DataBytes  uint64
	L2Bytes      uint64
	L2TotalBytes uint64
	HasSMT       bool
}

const (
	defaultL1DataBytes = 32 << 10
	defaultL2Bytes     = 1 << 20
)

// Detect probes the host for CPU topology and cache sizes. It never fails:
// any unreadable or unparsable source is skipped in favor of the default.
func Detect() Info {
	info := detectPlatform()
	if info.LogicalCPUs <= 0 {
		info.LogicalCPUs = runtime.NumCPU()
	}
	if info.PhysicalCPUs <= 0 {
		info.PhysicalCPUs = info.LogicalCPUs
	}
	if info.L1DataBytes == 0 {
		info.L1DataBytes = defaultL1DataBytes
	}
	if info.L2Bytes == 0 {
		info.L2Bytes = defaultL2Bytes
	}
	return info
}

// EffectiveThreadCount returns the worker-goroutine count a range run should
// default to: the physical core count, falling back to logical cores, falling
// back to one.
func EffectiveThreadCount(info Info) uint {
	if info.PhysicalCPUs > 0 {
		return uint(info.PhysicalCPUs)
	}
	if info.LogicalCPUs > 0 {
		return uint(info.LogicalCPUs)
	}
	return 1
}

// L2Total returns the total L2 capacity visible to the segmenter: the
// explicitly probed aggregate if known, else per-core L2 times physical
// cores, saturating rather than overflowing.
func (i Info) L2Total() uint64 {
	if i.L2TotalBytes > 0 {
		return i.L2TotalBytes
	}
	cores := uint64(i.PhysicalCPUs)
	if cores == 0 {
		cores = 1
	}
	total := i.L2Bytes * cores
	if cores != 0 && total/cores != i.L2Bytes {
		return ^uint64(0)
	}
	return total
}
