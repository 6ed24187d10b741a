// Package rangerunner orchestrates a full range-sieve run: thread
// partitioning, segment scheduling, ordered delivery, cancellation, and
// progress reporting, built on top of internal/marker, internal/segmenter,
// internal/popcount and internal/writer.
package rangerunner

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"calcprime/internal/affinity"
	"calcprime/internal/basesieve"
	"calcprime/internal/cpuinfo"
	"calcprime/internal/marker"
	"calcprime/internal/popcount"
	"calcprime/internal/primecount"
	"calcprime/internal/segmenter"
	"calcprime/internal/wheel"
	"calcprime/internal/writer"
)

// Status classifies how a run ended.
type Status int

const (
	StatusOK Status = iota
	StatusInvalidArgument
	StatusCancelled
	StatusIOError
	StatusInternalError
)

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

var (
	ErrInvalidArgument = errors.New("rangerunner: invalid argument")
	ErrCancelled       = errors.New("rangerunner: cancelled")
	ErrInternal        = errors.New("rangerunner: internal error")
)

// CancelToken is a cooperative cancellation flag polled by worker goroutines
// between segments.
type CancelToken struct {
	cancelled atomic.Bool
}

func (c *CancelToken) Cancel()         { c.cancelled.Store(true) }
func (c *CancelToken) Cancelled() bool { return c != nil && c.cancelled.Load() }

// PrimeCallback receives one segment's (or the prefix's) primes in order. A
// true return requests cancellation; it is not treated as an error.
type PrimeCallback func(primes []uint64) (cancel bool)

// ProgressCallback receives the completed fraction in [0,1]. A true return
// requests cancellation; it is not treated as an error.
type ProgressCallback func(fraction float64) (cancel bool)

// Options configures one range run.
type Options struct {
	From, To uint64

	Threads uint // 0 = derive from cpuinfo

	Wheel                   wheel.Type
	SegmentBytes, TileBytes uint64

	NthIndex uint64 // 0 = no nth-prime search

	CollectPrimes bool
	UseMeissel    bool

	WriteToFile  bool
	OutputFormat writer.Format
	OutputPath   string

	PrimeCallback    PrimeCallback
	ProgressCallback ProgressCallback
	CancelToken      *CancelToken

	CPUInfo *cpuinfo.Info // nil = probe via cpuinfo.Detect()
}

// Stats echoes the effective configuration and run totals, for --stats /
// --time style reporting and for embedding callers. It mirrors
// calcprime_range_stats (original_source/include/calcprime/api.h) field for
// field, plus a Go-only PopcountStrategy field.
type Stats struct {
	From, To          uint64
	ElapsedMicros     uint64
	Threads           uint
	CPU               cpuinfo.Info
	Segment           segmenter.Config
	Wheel             wheel.Type
	OutputFormat      writer.Format
	SegmentsTotal     uint64
	SegmentsProcessed uint64
	PrimeCount        uint64
	NthIndex          uint64
	NthFound          bool
	UseMeissel        bool
	Completed         bool
	Cancelled         bool

	PopcountStrategy string
}

// Result is the outcome of one range run.
type Result struct {
	Status      Status
	Stats       Stats
	TotalCount  uint64
	NthValue    uint64
	NthFound    bool
	PrimeChunks [][]uint64
	Cancelled   bool
	Err         error
}

func wheelBasisPrimes(t wheel.Type) []uint64 {
	switch t {
	case wheel.Mod210:
		return []uint64{3, 5, 7}
	case wheel.Mod1155:
		return []uint64{3, 5, 7, 11}
	default:
		return []uint64{3, 5}
	}
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

// Run validates opts, then sieves [From, To) and produces a Result. Every
// structure shared across worker goroutines is either owned by exactly one
// goroutine at a time or guarded by an atomic/mutex.
func Run(opts Options) (*Result, error) {
	if err := validate(opts); err != nil {
		return &Result{Status: StatusInvalidArgument, Err: err}, err
	}

	info := cpuinfo.Detect()
	if opts.CPUInfo != nil {
		info = *opts.CPUInfo
	}

	threads := opts.Threads
	if threads == 0 {
		threads = cpuinfo.EffectiveThreadCount(info)
	}
	if opts.NthIndex != 0 {
		threads = 1
	}
	if threads == 0 {
		threads = 1
	}

	oddBegin := opts.From
	if oddBegin <= 3 {
		oddBegin = 3
	} else if oddBegin%2 == 0 {
		oddBegin++
	}
	oddEnd := opts.To
	if oddEnd%2 == 0 {
		oddEnd++
	}

	start := time.Now()

	sqrtLimit := isqrt(opts.To-1) + 1
	sievingPrimes := basesieve.SimpleSieve(sqrtLimit)

	if opts.UseMeissel {
		count := primecount.Count(opts.From, opts.To, sievingPrimes, int(threads))
		return &Result{
			Status:     StatusOK,
			TotalCount: count,
			Stats: Stats{
				From: opts.From, To: opts.To,
				Threads:          threads,
				CPU:              info,
				Wheel:            opts.Wheel,
				UseMeissel:       true,
				PrimeCount:       count,
				Completed:        true,
				PopcountStrategy: string(popcount.ActiveStrategy()),
				ElapsedMicros:    uint64(time.Since(start).Microseconds()),
			},
		}, nil
	}

	var prefix []uint64
	if opts.From <= 2 && 2 < opts.To {
		prefix = append(prefix, 2)
	}
	for _, p := range wheelBasisPrimes(opts.Wheel) {
		if p >= opts.From && p < opts.To {
			prefix = append(prefix, p)
		}
	}

	if opts.NthIndex != 0 && opts.NthIndex <= uint64(len(prefix)) {
		return &Result{
			Status:   StatusOK,
			NthValue: prefix[opts.NthIndex-1],
			NthFound: true,
			Stats: Stats{
				From: opts.From, To: opts.To,
				Threads:       threads,
				CPU:           info,
				Wheel:         opts.Wheel,
				OutputFormat:  opts.OutputFormat,
				NthIndex:      opts.NthIndex,
				NthFound:      true,
				Completed:     true,
				ElapsedMicros: uint64(time.Since(start).Microseconds()),
			},
		}, nil
	}

	config := segmenter.Choose(info, threads, opts.SegmentBytes, opts.TileBytes, opts.To-opts.From)
	w := wheel.Get(opts.Wheel)
	smallLimit := uint32(29)
	if opts.Wheel != wheel.Mod30 {
		smallLimit = 47
	}
	m := marker.New(w, config, oddBegin, oddEnd, sievingPrimes, smallLimit)

	rng := segmenter.Range{Begin: oddBegin, End: oddEnd}
	queue := segmenter.NewWorkQueue(rng, config)

	var numSegments uint64
	if length := rng.End - rng.Begin; length > 0 && config.SegmentSpan > 0 {
		numSegments = (length + config.SegmentSpan - 1) / config.SegmentSpan
	}

	needPrimes := opts.CollectPrimes || opts.PrimeCallback != nil || opts.WriteToFile || opts.NthIndex != 0

	var sink *writer.Writer
	var err error
	sink, err = writer.New(opts.WriteToFile, opts.OutputPath, opts.OutputFormat)
	if err != nil {
		return &Result{Status: StatusIOError, Err: err}, err
	}

	run := &runState{
		opts:          opts,
		marker:        m,
		queue:         queue,
		numSegments:   numSegments,
		needPrimes:    needPrimes,
		writer:        sink,
		segmentsDone:  make([]atomic.Bool, numSegments),
		segmentCounts: make([]uint64, numSegments),
		segmentPrimes: make([][]uint64, numSegments),
		threads:       threads,
		pinWorkers:    runtime.GOOS == "linux" && int(threads) <= info.LogicalCPUs,
	}

	result := run.execute(prefix)
	result.Stats.From = opts.From
	result.Stats.To = opts.To
	result.Stats.Threads = threads
	result.Stats.CPU = info
	result.Stats.Segment = config
	result.Stats.Wheel = opts.Wheel
	result.Stats.OutputFormat = opts.OutputFormat
	result.Stats.SegmentsTotal = numSegments
	result.Stats.PrimeCount = result.TotalCount
	result.Stats.NthIndex = opts.NthIndex
	result.Stats.NthFound = result.NthFound
	result.Stats.Completed = result.Status == StatusOK
	result.Stats.Cancelled = result.Cancelled
	result.Stats.PopcountStrategy = string(popcount.ActiveStrategy())
	result.Stats.ElapsedMicros = uint64(time.Since(start).Microseconds())
	return result, result.Err
}

func validate(opts Options) error {
	if opts.To <= opts.From {
		return fmt.Errorf("%w: to must be greater than from", ErrInvalidArgument)
	}
	if opts.To < 2 {
		return fmt.Errorf("%w: to must be at least 2", ErrInvalidArgument)
	}
	if opts.UseMeissel {
		if opts.CollectPrimes || opts.PrimeCallback != nil || opts.WriteToFile || opts.NthIndex != 0 {
			return fmt.Errorf("%w: --ml is incompatible with prime delivery or nth search", ErrInvalidArgument)
		}
	}
	switch opts.Wheel {
	case wheel.Mod30, wheel.Mod210, wheel.Mod1155:
	default:
		return fmt.Errorf("%w: unknown wheel type %v", ErrInvalidArgument, opts.Wheel)
	}
	return nil
}

// runState holds everything shared across worker and delivery goroutines for
// one non-Meissel run.
type runState struct {
	opts   Options
	marker *marker.Marker
	queue  *segmenter.WorkQueue

	numSegments uint64
	needPrimes  bool
	threads     uint
	pinWorkers  bool

	writer *writer.Writer

	segmentsDone  []atomic.Bool
	segmentCounts []uint64
	segmentPrimes [][]uint64
	collected     [][]uint64 // only touched by execute() before spawning and by deliver() after, never concurrently

	mu            sync.Mutex
	cond          *sync.Cond
	stop          atomic.Bool
	failureKind   atomic.Int32 // 0 none, 1 writer, 2 callback, 3 progress, 4 internal
	failureErr    atomic.Value // error
	segmentsDoneN atomic.Uint64

	nthFound atomic.Bool
	nthValue atomic.Uint64

	progressMu sync.Mutex
}

const (
	failureNone = iota
	failureWriter
	failureCallback
	failureProgress
	failureInternal
)

func (r *runState) setFailure(kind int32, err error) {
	if r.failureKind.CompareAndSwap(failureNone, kind) {
		r.failureErr.Store(err)
	}
	r.stop.Store(true)
}

// invokePrimeCallback calls the user's prime callback, recovering a panic
// into an InternalError failure (mirroring the original's catch(...) around
// the callback invocation inside deliver_chunk) instead of letting it crash
// the process.
func (r *runState) invokePrimeCallback(primes []uint64) (cancel bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.setFailure(failureInternal, fmt.Errorf("%w: prime callback panicked: %v", ErrInternal, rec))
			cancel = true
		}
	}()
	return r.opts.PrimeCallback(primes)
}

// invokeProgressCallback calls the user's progress callback, recovering a
// panic into an InternalError failure (mirroring the original's catch(...)
// around the progress callback invocation).
func (r *runState) invokeProgressCallback(fraction float64) (cancel bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.setFailure(failureInternal, fmt.Errorf("%w: progress callback panicked: %v", ErrInternal, rec))
			cancel = true
		}
	}()
	return r.opts.ProgressCallback(fraction)
}

// dispatch delivers one chunk of primes (the prefix or one segment's output)
// to the writer, then the prime callback, in that order, matching the
// original's deliver_chunk: a writer error skips the callback entirely, and
// either a writer error or a callback-requested cancellation prevents the
// chunk from being reported as stored (the caller must not add it to
// CollectPrimes). It reports stored=true only when the chunk made it past
// both steps untouched by failure or cancellation.
func (r *runState) dispatch(primes []uint64) (stored bool) {
	if err := r.writer.WriteSegment(primes); err != nil {
		r.setFailure(failureWriter, err)
		return false
	}
	if r.opts.PrimeCallback != nil && len(primes) > 0 {
		if r.invokePrimeCallback(primes) {
			r.setFailure(failureCallback, fmt.Errorf("%w: prime callback requested cancellation", ErrCancelled))
			return false
		}
	}
	return true
}

func (r *runState) execute(prefix []uint64) *Result {
	r.cond = sync.NewCond(&r.mu)

	if len(prefix) > 0 {
		if r.dispatch(prefix) && r.opts.CollectPrimes {
			r.collected = append(r.collected, prefix)
		}
		if r.opts.NthIndex != 0 && uint64(len(prefix)) >= r.opts.NthIndex {
			r.nthFound.Store(true)
			r.nthValue.Store(prefix[r.opts.NthIndex-1])
		}
	}

	if r.opts.ProgressCallback != nil {
		if r.invokeProgressCallback(0.0) {
			r.stop.Store(true)
		}
	}

	var wg sync.WaitGroup
	var deliveryWG sync.WaitGroup
	if r.needPrimes && r.numSegments > 0 {
		deliveryWG.Add(1)
		go r.deliver(&deliveryWG, uint64(len(prefix)))
	}

	for t := uint(0); t < r.threads; t++ {
		wg.Add(1)
		go func(threadIndex int) {
			defer wg.Done()
			r.worker(threadIndex, int(r.threads), uint64(len(prefix)))
		}(int(t))
	}
	wg.Wait()

	if r.needPrimes && r.numSegments > 0 {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
		deliveryWG.Wait()
	}

	var totalCount uint64
	for _, c := range r.segmentCounts {
		totalCount += c
	}
	totalCount += uint64(len(prefix))

	res := &Result{TotalCount: totalCount, PrimeChunks: r.collected}
	res.Stats.SegmentsProcessed = r.segmentsDoneN.Load()

	if err := r.writer.Finish(); err != nil {
		r.setFailure(failureWriter, err)
	}

	switch r.failureKind.Load() {
	case failureWriter:
		res.Status = StatusIOError
		if v := r.failureErr.Load(); v != nil {
			res.Err = v.(error)
		}
	case failureCallback, failureProgress:
		res.Status = StatusCancelled
		res.Cancelled = true
	case failureInternal:
		res.Status = StatusInternalError
		if v := r.failureErr.Load(); v != nil {
			res.Err = v.(error)
		}
	default:
		if r.opts.CancelToken.Cancelled() {
			res.Status = StatusCancelled
			res.Cancelled = true
		} else {
			res.Status = StatusOK
		}
	}

	if r.opts.NthIndex != 0 {
		res.NthFound = r.nthFound.Load()
		res.NthValue = r.nthValue.Load()
		if !res.NthFound && res.Status == StatusOK {
			res.Status = StatusInternalError
			res.Err = fmt.Errorf("%w: nth prime not found within range", ErrInternal)
		}
	}

	if res.Status == StatusOK && r.opts.ProgressCallback != nil {
		r.invokeProgressCallback(1.0)
		if r.failureKind.Load() == failureInternal {
			res.Status = StatusInternalError
			if v := r.failureErr.Load(); v != nil {
				res.Err = v.(error)
			}
		}
	}

	return res
}

func (r *runState) worker(threadIndex, threadCount int, prefixCount uint64) {
	if r.pinWorkers {
		runtime.LockOSThread()
		affinity.Pin(threadIndex)
	}

	state := r.marker.MakeThreadState(threadIndex, threadCount)
	var bits []uint64
	var cumulative uint64
	if threadCount == 1 {
		cumulative = prefixCount
	}

	for {
		if r.opts.CancelToken.Cancelled() {
			// Raise stop so the delivery goroutine stops waiting on
			// segments that will never be sieved.
			r.stop.Store(true)
		}
		if r.stop.Load() {
			return
		}
		id, low, high, ok := r.queue.Next()
		if !ok {
			return
		}

		r.marker.SieveSegment(state, id, low, high, &bits)
		bitCount := int((high - low) >> 1)
		localCount := popcount.CountZeroBits(bits, bitCount)

		var primes []uint64
		if r.needPrimes {
			primes = make([]uint64, 0, localCount)
			for i := 0; i < bitCount; i++ {
				if bits[i/64]&(1<<uint(i%64)) == 0 {
					primes = append(primes, low+uint64(i)*2)
				}
			}
		}

		if threadCount == 1 && r.opts.NthIndex != 0 && !r.nthFound.Load() {
			if r.opts.NthIndex > cumulative && r.opts.NthIndex <= cumulative+localCount {
				idx := r.opts.NthIndex - cumulative - 1
				if idx < uint64(len(primes)) {
					r.nthValue.Store(primes[idx])
					r.nthFound.Store(true)
				}
			}
			cumulative += localCount
		}

		r.segmentCounts[id] = localCount
		if r.needPrimes {
			r.segmentPrimes[id] = primes
		}

		if r.opts.ProgressCallback != nil {
			done := r.segmentsDoneN.Add(1)
			r.progressMu.Lock()
			cancel := r.invokeProgressCallback(float64(done) / float64(r.numSegments))
			r.progressMu.Unlock()
			if cancel {
				r.setFailure(failureProgress, fmt.Errorf("%w: progress callback requested cancellation", ErrCancelled))
			}
		} else {
			r.segmentsDoneN.Add(1)
		}

		r.segmentsDone[id].Store(true)
		if r.needPrimes {
			r.mu.Lock()
			r.cond.Broadcast()
			r.mu.Unlock()
		}
	}
}

// deliver walks segments in order, invoking the writer and prime callback on
// each as soon as it is ready, regardless of the order workers finish it in.
func (r *runState) deliver(wg *sync.WaitGroup, prefixCount uint64) {
	defer wg.Done()
	for idx := uint64(0); idx < r.numSegments; idx++ {
		r.mu.Lock()
		for !r.segmentsDone[idx].Load() && !r.stop.Load() {
			r.cond.Wait()
		}
		r.mu.Unlock()

		if r.stop.Load() && !r.segmentsDone[idx].Load() {
			return
		}

		primes := r.segmentPrimes[idx]
		if r.dispatch(primes) && r.opts.CollectPrimes {
			r.collected = append(r.collected, primes)
		}
		if r.stop.Load() {
			return
		}
	}
}

