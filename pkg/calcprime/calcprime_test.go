package calcprime

import (
	"context"
	"encoding/json"
	"testing"
)

func isPrimeTrial(n uint64) bool {
	if n < 2 {
		return false
	}
	for d := uint64(2); d*d <= n; d++ {
		if n%d == 0 {
			return false
		}
	}
	return true
}

func TestRunRangeCount(t *testing.T) {
	const from, to = 2, 20000
	var want uint64
	for v := uint64(from); v < to; v++ {
		if isPrimeTrial(v) {
			want++
		}
	}

	res, err := RunRange(context.Background(), RangeOptions{From: from, To: to, Threads: 2})
	if err != nil {
		t.Fatalf("RunRange: %v", err)
	}
	if res.Status != StatusOK {
		t.Fatalf("status = %v", res.Status)
	}
	if res.TotalCount != want {
		t.Fatalf("TotalCount = %d, want %d", res.TotalCount, want)
	}
}

func TestRunRangeContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var delivered int
	res, err := RunRange(ctx, RangeOptions{
		From: 2, To: 1000000, Threads: 1,
		PrimeCallback: func(primes []uint64) bool {
			delivered += len(primes)
			cancel()
			return false
		},
	})
	if err != nil {
		t.Fatalf("RunRange: %v", err)
	}
	if res.Status != StatusCancelled {
		t.Fatalf("status = %v, want Cancelled", res.Status)
	}
}

func TestMeisselCountMatchesSimpleSieve(t *testing.T) {
	const from, to = 2, 100000
	primes := SimpleSieve(to)
	var want uint64
	for _, p := range primes {
		if uint64(p) >= from && uint64(p) < to {
			want++
		}
	}
	got := MeisselCount(from, to, 2)
	if got != want {
		t.Fatalf("MeisselCount = %d, want %d", got, want)
	}
}

func TestMillerRabinIsPrimeMatchesTrialDivision(t *testing.T) {
	for n := uint64(0); n < 5000; n++ {
		if MillerRabinIsPrime(n) != isPrimeTrial(n) {
			t.Fatalf("mismatch at %d", n)
		}
	}
}

func TestChooseSegmentConfigIsAligned(t *testing.T) {
	cfg := ChooseSegmentConfig(4, 0, 0, 1_000_000_000)
	if cfg.SegmentBytes%128 != 0 {
		t.Fatalf("SegmentBytes %d not aligned to 128", cfg.SegmentBytes)
	}
	if cfg.TileBytes > cfg.SegmentBytes {
		t.Fatalf("TileBytes %d exceeds SegmentBytes %d", cfg.TileBytes, cfg.SegmentBytes)
	}
}

func TestDetectCPUInfoIsPositive(t *testing.T) {
	info := DetectCPUInfo()
	if info.LogicalCPUs <= 0 {
		t.Fatalf("LogicalCPUs = %d, want > 0", info.LogicalCPUs)
	}
}

func TestPopcountAndCountZeroBitsAgree(t *testing.T) {
	words := []uint64{0, ^uint64(0), 0x0F0F0F0F0F0F0F0F}
	bitCount := 64*3 - 10
	zero := CountZeroBits(words, bitCount)
	var want uint64
	for i := 0; i < bitCount; i++ {
		if words[i/64]&(1<<uint(i%64)) == 0 {
			want++
		}
	}
	if zero != want {
		t.Fatalf("CountZeroBits = %d, want %d", zero, want)
	}
	if PopcountU64(0) != 0 || PopcountU64(^uint64(0)) != 64 {
		t.Fatal("PopcountU64 sanity check failed")
	}
}

func TestRangeStatsStringIsValidJSON(t *testing.T) {
	s := RangeStats{Threads: 4, Segment: SegmentConfig{SegmentBytes: 1024}}
	out := s.String()
	if out == "" {
		t.Fatal("empty stats string")
	}
	if !json.Valid([]byte(out)) {
		t.Fatalf("stats string is not valid JSON: %q", out)
	}
}

func TestRunRangeStatsMatchOptions(t *testing.T) {
	const from, to = 2, 20000
	res, err := RunRange(context.Background(), RangeOptions{From: from, To: to, Threads: 2})
	if err != nil {
		t.Fatalf("RunRange: %v", err)
	}
	if res.Stats.From != from || res.Stats.To != to {
		t.Fatalf("Stats.From/To = %d/%d, want %d/%d", res.Stats.From, res.Stats.To, from, to)
	}
	if res.Stats.PrimeCount != res.TotalCount {
		t.Fatalf("Stats.PrimeCount = %d, want %d", res.Stats.PrimeCount, res.TotalCount)
	}
	if !res.Stats.Completed {
		t.Fatal("Stats.Completed = false, want true")
	}
	if res.Stats.PopcountStrategy == "" {
		t.Fatal("Stats.PopcountStrategy is empty")
	}
}
