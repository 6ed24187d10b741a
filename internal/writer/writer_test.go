package writer

import (
	"encoding/binary"
	"os"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/crypto/sha3"
)

func tempPath(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "writer-test-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	path := f.Name()
	f.Close()
	os.Remove(path)
	return path
}

func TestTextFormatRoundTrip(t *testing.T) {
	path := tempPath(t)
	w, err := New(true, path, FormatText)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	primes := []uint64{2, 3, 5, 7, 11}
	if err := w.WriteSegment(primes); err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != len(primes) {
		t.Fatalf("got %d lines, want %d: %q", len(lines), len(primes), data)
	}
	for i, p := range primes {
		if lines[i] != strconv.FormatUint(p, 10) {
			t.Fatalf("line %d = %q, want %d", i, lines[i], p)
		}
	}
}

func TestBinaryFormatRoundTrip(t *testing.T) {
	path := tempPath(t)
	w, err := New(true, path, FormatBinary)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	primes := []uint64{2, 3, 5, 7, 11}
	if err := w.WriteSegment(primes); err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != len(primes)*8 {
		t.Fatalf("got %d bytes, want %d", len(data), len(primes)*8)
	}
	for i, p := range primes {
		got := binary.LittleEndian.Uint64(data[i*8:])
		if got != p {
			t.Fatalf("value %d = %d, want %d", i, got, p)
		}
	}
}

func TestDeltaFormatRoundTrip(t *testing.T) {
	path := tempPath(t)
	w, err := New(true, path, FormatZstdDelta)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	primes := []uint64{2, 3, 5, 7, 11}
	if err := w.WriteSegment(primes); err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != len(primes)*8 {
		t.Fatalf("got %d bytes, want %d", len(data), len(primes)*8)
	}
	var prev uint64
	for i, p := range primes {
		delta := binary.LittleEndian.Uint64(data[i*8:])
		if prev+delta != p {
			t.Fatalf("delta %d: prev=%d delta=%d want sum %d", i, prev, delta, p)
		}
		prev = p
	}
}

func TestDeltaFormatRejectsNonMonotonic(t *testing.T) {
	path := tempPath(t)
	w, err := New(true, path, FormatZstdDelta)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.WriteSegment([]uint64{10, 5}); err == nil {
		t.Fatalf("expected error for non-monotonic input")
	}
	w.Finish()
}

func TestFinishIsIdempotent(t *testing.T) {
	path := tempPath(t)
	w, err := New(true, path, FormatText)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.WriteSegment([]uint64{2, 3}); err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("first Finish: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("second Finish should be a no-op, got: %v", err)
	}
}

func TestBinaryFormatOutputIsDeterministic(t *testing.T) {
	primes := []uint64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29}

	write := func() []byte {
		path := tempPath(t)
		w, err := New(true, path, FormatBinary)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := w.WriteSegment(primes); err != nil {
			t.Fatalf("WriteSegment: %v", err)
		}
		if err := w.Finish(); err != nil {
			t.Fatalf("Finish: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		return data
	}

	first := sha3.Sum256(write())
	second := sha3.Sum256(write())
	if first != second {
		t.Fatalf("same prime set produced different checksums: %x vs %x", first, second)
	}
}

func TestDisabledWriterIsNoOp(t *testing.T) {
	w, err := New(false, "", FormatText)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.WriteSegment([]uint64{2, 3}); err != nil {
		t.Fatalf("WriteSegment on disabled writer: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish on disabled writer: %v", err)
	}
}
