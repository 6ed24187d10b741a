// Package writer implements the pipelined output sink: a goroutine that
// drains a bounded channel of encoded chunks so sieve workers and the
// delivery loop never block on file I/O.
package writer

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"calcprime/internal/diag"
)

// Format selects the on-disk encoding for emitted primes.
type Format int

const (
	FormatText Format = iota
	FormatBinary
	// FormatZstdDelta writes raw little-endian deltas between consecutive
	// primes. The name is kept for wire compatibility with callers that
	// expect this literal format label — it has never been zstd-compressed.
	FormatZstdDelta
)

const (
	fileBufferBytes = 8 << 20
	queueCapacity   = 8
	bufferThreshold = 8 << 20
)

var ErrNonMonotonic = errors.New("writer: primes must be non-decreasing for delta encoding")
var ErrStopped = errors.New("writer: writer has been stopped")

type chunk struct {
	data  []byte
	flush bool
}

// Writer is an async single-consumer sink. All producer methods
// (WriteSegment, WriteValue, Flush) may be called only from one goroutine —
// matching the rangerunner's single delivery goroutine — concurrent producer
// calls are not synchronized.
type Writer struct {
	enabled bool
	file    *os.File
	ownsFile bool
	bufw    *bufio.Writer

	format        Format
	previousPrime uint64

	queue         chan chunk
	done          chan struct{}
	stopRequested atomic.Bool

	ioError atomic.Bool
	errMu   sync.Mutex
	errMsg  string

	pending bytes.Buffer
}

// New opens the sink (stdout when path is empty) and starts the writer
// goroutine. If enabled is false, every method is a no-op — used when the
// caller requested neither file output nor prime printing.
func New(enabled bool, path string, format Format) (*Writer, error) {
	w := &Writer{enabled: enabled, format: format}
	if !enabled {
		return w, nil
	}

	if path == "" {
		w.file = os.Stdout
		w.ownsFile = false
		diag.Note("calcprime", "writing primes to stdout may stall large outputs. Consider using --out <path>.")
	} else {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("writer: failed to open output file: %w", err)
		}
		w.file = f
		w.ownsFile = true
	}

	w.bufw = bufio.NewWriterSize(w.file, fileBufferBytes)
	w.pending.Grow(bufferThreshold)
	w.queue = make(chan chunk, queueCapacity)
	w.done = make(chan struct{})
	go w.loop()
	return w, nil
}

// WriteSegment encodes and enqueues a batch of primes, in order.
func (w *Writer) WriteSegment(primes []uint64) error {
	if !w.enabled || len(primes) == 0 {
		return nil
	}
	switch w.format {
	case FormatText:
		var buf bytes.Buffer
		buf.Grow(len(primes) * 20)
		var scratch [20]byte
		for _, v := range primes {
			b := strconv.AppendUint(scratch[:0], v, 10)
			buf.Write(b)
			buf.WriteByte('\n')
		}
		return w.enqueue(buf.Bytes(), false)
	case FormatBinary:
		buf := make([]byte, len(primes)*8)
		for i, v := range primes {
			binary.LittleEndian.PutUint64(buf[i*8:], v)
		}
		return w.enqueue(buf, false)
	case FormatZstdDelta:
		data, err := w.encodeDeltas(primes)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return nil
		}
		return w.enqueue(data, false)
	default:
		return fmt.Errorf("writer: unknown format %d", w.format)
	}
}

// WriteValue encodes and enqueues a single value in the writer's format.
func (w *Writer) WriteValue(value uint64) error {
	if !w.enabled {
		return nil
	}
	switch w.format {
	case FormatText:
		var scratch [20]byte
		b := strconv.AppendUint(scratch[:0], value, 10)
		b = append(b, '\n')
		return w.enqueue(b, false)
	case FormatBinary:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, value)
		return w.enqueue(buf, false)
	case FormatZstdDelta:
		data, err := w.encodeDeltaValue(value)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return nil
		}
		return w.enqueue(data, false)
	default:
		return fmt.Errorf("writer: unknown format %d", w.format)
	}
}

// Flush enqueues a flush marker and returns once it has been enqueued (not
// necessarily once it has been processed — symmetric with the original's
// async flush()).
func (w *Writer) Flush() error {
	if !w.enabled {
		return nil
	}
	return w.enqueue(nil, true)
}

// Finish drains the queue, stops the writer goroutine, closes an owned file
// (or flushes a borrowed stdout), and surfaces the first I/O error seen.
// Calling Finish more than once is a safe no-op after the first call.
func (w *Writer) Finish() error {
	if !w.enabled {
		return nil
	}
	alreadyStopped := w.stopRequested.Load()

	var flushErr error
	if !alreadyStopped {
		flushErr = w.Flush()
		w.stopRequested.Store(true)
		close(w.queue)
	}

	if w.done != nil {
		<-w.done
	}

	if w.file != nil {
		if w.ownsFile {
			if err := w.file.Close(); err != nil && flushErr == nil {
				flushErr = fmt.Errorf("writer: failed to close output file: %w", err)
			}
		} else if err := w.bufw.Flush(); err != nil && flushErr == nil {
			flushErr = fmt.Errorf("writer: failed to flush output stream: %w", err)
		}
		w.file = nil
	}

	if flushErr != nil {
		return flushErr
	}
	return w.checkIOError()
}

func (w *Writer) enqueue(data []byte, flush bool) (err error) {
	if err := w.checkIOError(); err != nil {
		return err
	}
	if w.stopRequested.Load() {
		return ErrStopped
	}
	defer func() {
		// A concurrent Finish may close the queue between the check above
		// and this send; recover converts that race into ErrStopped rather
		// than a panic. Finish is only ever called by the same goroutine
		// that calls enqueue in this codebase, so this is defensive, not
		// load-bearing.
		if r := recover(); r != nil {
			err = ErrStopped
		}
	}()
	w.queue <- chunk{data: data, flush: flush}
	return nil
}

func (w *Writer) loop() {
	defer close(w.done)
	for c := range w.queue {
		w.handle(c)
	}
	w.flushBuffer()
	if err := w.bufw.Flush(); err != nil {
		w.setError(err.Error())
	}
}

func (w *Writer) handle(c chunk) {
	if len(c.data) > 0 {
		w.pending.Write(c.data)
		if w.pending.Len() >= bufferThreshold {
			w.flushBuffer()
		}
	}
	if c.flush {
		w.flushBuffer()
		if err := w.bufw.Flush(); err != nil {
			w.setError(err.Error())
		}
	}
}

func (w *Writer) flushBuffer() {
	if w.pending.Len() == 0 {
		return
	}
	if _, err := w.bufw.Write(w.pending.Bytes()); err != nil {
		w.setError(err.Error())
	}
	w.pending.Reset()
}

func (w *Writer) checkIOError() error {
	if !w.ioError.Load() {
		return nil
	}
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.errMsg == "" {
		return errors.New("writer: I/O error")
	}
	return errors.New("writer: " + w.errMsg)
}

func (w *Writer) setError(message string) {
	if w.ioError.CompareAndSwap(false, true) {
		w.errMu.Lock()
		w.errMsg = message
		w.errMu.Unlock()
	}
}

func (w *Writer) encodeDeltas(primes []uint64) ([]byte, error) {
	raw := make([]byte, len(primes)*8)
	for i, v := range primes {
		if v < w.previousPrime {
			return nil, ErrNonMonotonic
		}
		delta := v - w.previousPrime
		w.previousPrime = v
		binary.LittleEndian.PutUint64(raw[i*8:], delta)
	}
	return raw, nil
}

func (w *Writer) encodeDeltaValue(value uint64) ([]byte, error) {
	if value < w.previousPrime {
		return nil, ErrNonMonotonic
	}
	delta := value - w.previousPrime
	w.previousPrime = value
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, delta)
	return buf, nil
}
