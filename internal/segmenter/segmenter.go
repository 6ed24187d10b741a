// Package segmenter picks segment and tile byte sizes from cache topology
// and range length, and hands out segment work items to worker goroutines.
package segmenter

import (
	"math"
	"sync/atomic"

	"calcprime/internal/cpuinfo"
)

// Config describes the byte and bit geometry of one run. SegmentSpan/TileSpan
// are expressed in odd-integer value space (each bit covers 2 consecutive
// integers), matching the odd-only bitset representation.
type Config struct {
	SegmentBytes uint64
	TileBytes    uint64
	SegmentBits  uint64
	TileBits     uint64
	SegmentSpan  uint64
	TileSpan     uint64
}

const (
	minSegmentBytes = 8 * 1024
	alignment       = 128
)

func alignUp(v, align uint64) uint64 {
	if align == 0 || v%align == 0 {
		return v
	}
	add := align - v%align
	if v > ^uint64(0)-add {
		return ^uint64(0) - (^uint64(0) % align)
	}
	return v + add
}

func alignDown(v, align uint64) uint64 {
	if align == 0 || v == 0 {
		return v
	}
	return v - v%align
}

func clampFloor(v float64) uint64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	const maxU64 = float64(^uint64(0))
	if v >= maxU64 {
		return ^uint64(0)
	}
	return uint64(math.Floor(v))
}

// Choose computes the segment/tile byte sizes for a run. A zero
// requestedSegmentBytes/requestedTileBytes means "derive a default from cache
// topology and range length"; a nonzero value is honored (aligned to 128
// bytes) rather than overridden.
func Choose(info cpuinfo.Info, threads uint, requestedSegmentBytes, requestedTileBytes uint64, rangeLength uint64) Config {
	l1 := info.L1DataBytes
	if l1 == 0 {
		l1 = 32 * 1024
	}
	totalL2 := info.L2Total()

	var segmentBytes uint64
	var capLimitBytes uint64
	if requestedSegmentBytes == 0 {
		const (
			k0      = 1562.5
			beta    = 0.0625
			alphaG  = 0.833333
			minSeg  = 8.0 * 1024.0
		)
		R := float64(rangeLength)
		var sFixed float64
		if R > 0 {
			scaledR := R / 1e10
			kr := k0
			if scaledR > 0 {
				kr *= math.Pow(scaledR, beta)
			}
			if kr > 0 {
				sFixed = R / (16.0 * kr)
			}
		}

		var sMin float64
		if R > 0 {
			if R <= 1e9 {
				ratio := R / 1e8
				sMin = 8.0 * 1024.0 * math.Pow(ratio, 1.05)
			} else {
				ratio := R / 1e9
				sMin = 90.0 * 1024.0 * math.Pow(ratio, -0.5)
			}
		}

		base := math.Max(minSeg, math.Max(sFixed, sMin))
		if totalL2 != 0 {
			sMax := float64(totalL2) * alphaG
			if base > sMax {
				base = sMax
			}
			capLimitBytes = clampFloor(sMax)
		}
		if math.IsNaN(base) || math.IsInf(base, 0) || base <= 0 {
			base = minSeg
		}

		const maxU64 = float64(^uint64(0))
		if base >= maxU64 {
			segmentBytes = ^uint64(0)
		} else {
			rounded := math.Floor(base + 0.5)
			if rounded <= 0 {
				rounded = minSeg
			}
			if rounded >= maxU64 {
				segmentBytes = ^uint64(0)
			} else {
				segmentBytes = alignUp(uint64(rounded), alignment)
			}
		}
		if segmentBytes == 0 {
			segmentBytes = minSegmentBytes
		}
	} else {
		segmentBytes = alignUp(requestedSegmentBytes, alignment)
	}

	segmentBytes = alignUp(segmentBytes, alignment)
	if capLimitBytes != 0 {
		capAligned := alignDown(capLimitBytes, alignment)
		if capAligned == 0 {
			capAligned = capLimitBytes
		}
		if capAligned != 0 && segmentBytes > capAligned {
			segmentBytes = capAligned
		}
	}
	if segmentBytes < minSegmentBytes {
		segmentBytes = minSegmentBytes
	}

	var tileBytes uint64
	if requestedTileBytes == 0 {
		target := l1
		if target < minSegmentBytes {
			target = minSegmentBytes
		}
		tileBytes = alignUp(target, alignment)
	} else {
		tileBytes = alignUp(requestedTileBytes, alignment)
	}
	if tileBytes > segmentBytes {
		tileBytes = segmentBytes
	}

	return Config{
		SegmentBytes: segmentBytes,
		TileBytes:    tileBytes,
		SegmentBits:  segmentBytes * 8,
		TileBits:     tileBytes * 8,
		SegmentSpan:  segmentBytes * 8 * 2,
		TileSpan:     tileBytes * 8 * 2,
	}
}

// Range is a half-open value range over which segments are carved.
type Range struct {
	Begin, End uint64
}

// WorkQueue hands out segment identifiers and bounds to worker goroutines via
// a single lock-free counter, matching the original's atomic fetch-add.
type WorkQueue struct {
	rng    Range
	config Config
	length uint64
	next   atomic.Uint64
}

// NewWorkQueue constructs a queue covering rng, carved into config.SegmentSpan
// pieces.
func NewWorkQueue(rng Range, config Config) *WorkQueue {
	length := uint64(0)
	if rng.End > rng.Begin {
		length = rng.End - rng.Begin
	}
	return &WorkQueue{rng: rng, config: config, length: length}
}

// Next claims the next segment. ok is false once the range is exhausted.
func (q *WorkQueue) Next() (segmentID, low, high uint64, ok bool) {
	idx := q.next.Add(1) - 1
	span := q.config.SegmentSpan
	offset := idx * span
	if span != 0 && offset/span != idx {
		return 0, 0, 0, false
	}
	if offset >= q.length {
		return 0, 0, 0, false
	}
	segmentID = idx
	low = q.rng.Begin + offset
	remaining := q.length - offset
	spanLength := span
	if spanLength > remaining {
		spanLength = remaining
	}
	high = q.rng.Begin + offset + spanLength
	return segmentID, low, high, low < high
}
