// Package calcprime is the public API for segmented, wheel-based sieving
// over 64-bit ranges: counting, printing, nth-prime search, and
// Meissel-Lehmer counting, plus the supporting primitives (simple sieve,
// Miller-Rabin, popcount, cache-aware segment sizing) as standalone
// functions.
package calcprime

import (
	"context"
	"fmt"

	"github.com/sugawarayuuta/sonnet"

	"calcprime/internal/basesieve"
	"calcprime/internal/cpuinfo"
	"calcprime/internal/popcount"
	"calcprime/internal/primecount"
	"calcprime/internal/rangerunner"
	"calcprime/internal/segmenter"
	"calcprime/internal/wheel"
	"calcprime/internal/writer"
)

// WheelType selects the wheel-factorization modulus used to presieve a run.
type WheelType int

const (
	Wheel30 WheelType = iota
	Wheel210
	Wheel1155
)

func (t WheelType) internal() wheel.Type {
	switch t {
	case Wheel210:
		return wheel.Mod210
	case Wheel1155:
		return wheel.Mod1155
	default:
		return wheel.Mod30
	}
}

func fromInternalWheel(t wheel.Type) WheelType {
	switch t {
	case wheel.Mod210:
		return Wheel210
	case wheel.Mod1155:
		return Wheel1155
	default:
		return Wheel30
	}
}

// OutputFormat selects the on-disk encoding used when writing primes to a
// file or stdout.
type OutputFormat int

const (
	FormatText OutputFormat = iota
	FormatBinary
	FormatZstdDelta
)

func (f OutputFormat) internal() writer.Format {
	switch f {
	case FormatBinary:
		return writer.FormatBinary
	case FormatZstdDelta:
		return writer.FormatZstdDelta
	default:
		return writer.FormatText
	}
}

func fromInternalFormat(f writer.Format) OutputFormat {
	switch f {
	case writer.FormatBinary:
		return FormatBinary
	case writer.FormatZstdDelta:
		return FormatZstdDelta
	default:
		return FormatText
	}
}

// Status classifies how a run ended.
type Status int

const (
	StatusOK Status = iota
	StatusInvalidArgument
	StatusCancelled
	StatusIOError
	StatusInternalError
)

func fromInternalStatus(s rangerunner.Status) Status {
	switch s {
	case rangerunner.StatusInvalidArgument:
		return StatusInvalidArgument
	case rangerunner.StatusCancelled:
		return StatusCancelled
	case rangerunner.StatusIOError:
		return StatusIOError
	case rangerunner.StatusInternalError:
		return StatusInternalError
	default:
		return StatusOK
	}
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalidArgument:
		return "invalid_argument"
	case StatusCancelled:
		return "cancelled"
	case StatusIOError:
		return "io_error"
	case StatusInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// PrimeCallback receives one chunk of primes, in ascending order across
// calls. A true return requests cancellation.
type PrimeCallback func(primes []uint64) (cancel bool)

// ProgressCallback receives the completed fraction of a run, in [0,1]. A
// true return requests cancellation.
type ProgressCallback func(fraction float64) (cancel bool)

// RangeOptions configures one call to RunRange.
type RangeOptions struct {
	From, To uint64

	// Threads is the worker goroutine count; 0 derives it from detected CPU
	// topology.
	Threads uint

	Wheel                   WheelType
	SegmentBytes, TileBytes uint64

	// NthIndex, if nonzero, asks for the NthIndex-th prime in [From, To)
	// (1-based) instead of a full count/print run. Forces single-threaded
	// execution to guarantee well-defined ordering.
	NthIndex uint64

	// CollectPrimes buffers every emitted chunk into RangeResult.PrimeChunks.
	// Only use this for ranges small enough to fit the result in memory.
	CollectPrimes bool

	// UseMeissel computes TotalCount via Meissel-Lehmer combinatorial
	// counting instead of sieving. Incompatible with CollectPrimes,
	// PrimeCallback, WriteToFile and NthIndex.
	UseMeissel bool

	WriteToFile  bool
	OutputFormat OutputFormat
	OutputPath   string

	PrimeCallback    PrimeCallback
	ProgressCallback ProgressCallback
}

// RangeStats carries the effective run configuration and run totals,
// mirroring calcprime_range_stats (original_source/include/calcprime/api.h)
// field for field, plus a Go-only PopcountStrategy field. Tagged for JSON
// output via sonnet (a drop-in encoding/json-compatible encoder).
type RangeStats struct {
	From              uint64 `json:"from"`
	To                uint64 `json:"to"`
	ElapsedMicros     uint64 `json:"elapsed_micros"`
	Threads           uint   `json:"threads"`
	CPU               CPUInfo
	Segment           SegmentConfig
	Wheel             WheelType    `json:"wheel"`
	OutputFormat      OutputFormat `json:"output_format"`
	SegmentsTotal     uint64       `json:"segments_total"`
	SegmentsProcessed uint64       `json:"segments_processed"`
	PrimeCount        uint64       `json:"prime_count"`
	NthIndex          uint64       `json:"nth_index"`
	NthFound          bool         `json:"nth_found"`
	UseMeissel        bool         `json:"use_meissel"`
	Completed         bool         `json:"completed"`
	Cancelled         bool         `json:"cancelled"`

	PopcountStrategy string `json:"popcount_strategy"`
}

// String renders stats as JSON via sonnet, for --stats-format json.
func (s RangeStats) String() string {
	data, err := sonnet.Marshal(s)
	if err != nil {
		type rangeStatsNoString RangeStats
		return fmt.Sprintf("%+v", rangeStatsNoString(s))
	}
	return string(data)
}

// RangeResult is the outcome of one RunRange call.
type RangeResult struct {
	Status      Status
	Stats       RangeStats
	TotalCount  uint64
	NthValue    uint64
	NthFound    bool
	PrimeChunks [][]uint64
	Cancelled   bool
	Err         error
}

// RunRange sieves (or Meissel-counts) [From, To) per opts. ctx cancellation
// is cooperative: in-flight segments complete, no new ones start, and the
// result's Status is StatusCancelled.
func RunRange(ctx context.Context, opts RangeOptions) (*RangeResult, error) {
	token := &rangerunner.CancelToken{}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			token.Cancel()
		case <-done:
		}
	}()

	internalOpts := rangerunner.Options{
		From:          opts.From,
		To:            opts.To,
		Threads:       opts.Threads,
		Wheel:         opts.Wheel.internal(),
		SegmentBytes:  opts.SegmentBytes,
		TileBytes:     opts.TileBytes,
		NthIndex:      opts.NthIndex,
		CollectPrimes: opts.CollectPrimes,
		UseMeissel:    opts.UseMeissel,
		WriteToFile:   opts.WriteToFile,
		OutputFormat:  opts.OutputFormat.internal(),
		OutputPath:    opts.OutputPath,
		CancelToken:   token,
	}
	if opts.PrimeCallback != nil {
		cb := opts.PrimeCallback
		internalOpts.PrimeCallback = func(primes []uint64) bool { return cb(primes) }
	}
	if opts.ProgressCallback != nil {
		cb := opts.ProgressCallback
		internalOpts.ProgressCallback = func(fraction float64) bool { return cb(fraction) }
	}

	res, err := rangerunner.Run(internalOpts)
	out := &RangeResult{
		Status:      fromInternalStatus(res.Status),
		TotalCount:  res.TotalCount,
		NthValue:    res.NthValue,
		NthFound:    res.NthFound,
		PrimeChunks: res.PrimeChunks,
		Cancelled:   res.Cancelled,
		Err:         res.Err,
		Stats: RangeStats{
			From:              res.Stats.From,
			To:                res.Stats.To,
			ElapsedMicros:     res.Stats.ElapsedMicros,
			Threads:           res.Stats.Threads,
			CPU:               cpuInfoFromInternal(res.Stats.CPU),
			Segment:           segmentConfigFromInternal(res.Stats.Segment),
			Wheel:             fromInternalWheel(res.Stats.Wheel),
			OutputFormat:      fromInternalFormat(res.Stats.OutputFormat),
			SegmentsTotal:     res.Stats.SegmentsTotal,
			SegmentsProcessed: res.Stats.SegmentsProcessed,
			PrimeCount:        res.Stats.PrimeCount,
			NthIndex:          res.Stats.NthIndex,
			NthFound:          res.Stats.NthFound,
			UseMeissel:        res.Stats.UseMeissel,
			Completed:         res.Stats.Completed,
			Cancelled:         res.Stats.Cancelled,
			PopcountStrategy:  res.Stats.PopcountStrategy,
		},
	}
	return out, err
}

// MeisselCount returns the number of primes in [from, to) via Meissel-Lehmer
// combinatorial counting, without sieving. threads<=0 uses a single thread.
func MeisselCount(from, to uint64, threads int) uint64 {
	if threads <= 0 {
		threads = 1
	}
	sqrtLimit := isqrt(to-1) + 1
	primes := basesieve.SimpleSieve(sqrtLimit)
	return primecount.Count(from, to, primes, threads)
}

// MillerRabinIsPrime is a deterministic primality test for the full uint64
// range.
func MillerRabinIsPrime(n uint64) bool { return primecount.MillerRabinIsPrime(n) }

// SimpleSieve returns every prime <= limit via a classical odd-only sieve.
// Intended for small bootstrap ranges (e.g. computing sieving primes up to
// sqrt(to)), not as a substitute for RunRange on large ranges.
func SimpleSieve(limit uint64) []uint32 { return basesieve.SimpleSieve(limit) }

// SegmentConfig describes the chosen segment/tile byte, bit, and span
// geometry, matching calcprime_segment_config field for field.
type SegmentConfig struct {
	SegmentBytes uint64 `json:"segment_bytes"`
	TileBytes    uint64 `json:"tile_bytes"`
	SegmentBits  uint64 `json:"segment_bits"`
	TileBits     uint64 `json:"tile_bits"`
	SegmentSpan  uint64 `json:"segment_span"`
	TileSpan     uint64 `json:"tile_span"`
}

func segmentConfigFromInternal(cfg segmenter.Config) SegmentConfig {
	return SegmentConfig{
		SegmentBytes: cfg.SegmentBytes,
		TileBytes:    cfg.TileBytes,
		SegmentBits:  cfg.SegmentBits,
		TileBits:     cfg.TileBits,
		SegmentSpan:  cfg.SegmentSpan,
		TileSpan:     cfg.TileSpan,
	}
}

// ChooseSegmentConfig derives segment and tile sizes from CPU cache
// topology, thread count, and range length, honoring nonzero
// requestedSegmentBytes/requestedTileBytes as explicit overrides.
func ChooseSegmentConfig(threads uint, requestedSegmentBytes, requestedTileBytes, rangeLength uint64) SegmentConfig {
	info := cpuinfo.Detect()
	cfg := segmenter.Choose(info, threads, requestedSegmentBytes, requestedTileBytes, rangeLength)
	return segmentConfigFromInternal(cfg)
}

// CPUInfo describes detected processor topology and cache sizes, matching
// calcprime_cpu_info field for field.
type CPUInfo struct {
	LogicalCPUs  int    `json:"logical_cpus"`
	PhysicalCPUs int    `json:"physical_cpus"`
	L1DataBytes  uint64 `json:"l1_data_bytes"`
	L2Bytes      uint64 `json:"l2_bytes"`
	L2TotalBytes uint64 `json:"l2_total_bytes"`
	HasSMT       bool   `json:"has_smt"`
}

func cpuInfoFromInternal(info cpuinfo.Info) CPUInfo {
	return CPUInfo{
		LogicalCPUs:  info.LogicalCPUs,
		PhysicalCPUs: info.PhysicalCPUs,
		L1DataBytes:  info.L1DataBytes,
		L2Bytes:      info.L2Bytes,
		L2TotalBytes: info.L2TotalBytes,
		HasSMT:       info.HasSMT,
	}
}

// DetectCPUInfo probes the local machine's CPU topology and cache sizes.
func DetectCPUInfo() CPUInfo {
	return cpuInfoFromInternal(cpuinfo.Detect())
}

// PopcountU64 counts set bits in a single 64-bit word.
func PopcountU64(x uint64) int { return popcount.PopcountU64(x) }

// CountZeroBits counts zero bits among the first bitCount bits of words,
// i.e. the prime count within a sieved segment's bitset.
func CountZeroBits(words []uint64, bitCount int) uint64 {
	return popcount.CountZeroBits(words, bitCount)
}

func isqrt(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}
