package rangerunner

import (
	"testing"

	"calcprime/internal/wheel"
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

func countTrial(from, to uint64) uint64 {
	var n uint64
	for v := from; v < to; v++ {
		if isPrimeTrial(v) {
			n++
		}
	}
	return n
}

func TestRunCountMatchesTrialDivision(t *testing.T) {
	const from, to = 2, 20000
	want := countTrial(from, to)

	res, err := Run(Options{From: from, To: to, Threads: 4, Wheel: wheel.Mod30})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Status != StatusOK {
		t.Fatalf("status = %v, want OK", res.Status)
	}
	if res.TotalCount != want {
		t.Fatalf("TotalCount = %d, want %d", res.TotalCount, want)
	}
}

func TestRunCountIsThreadInvariant(t *testing.T) {
	const from, to = 2, 50000
	one, err := Run(Options{From: from, To: to, Threads: 1, Wheel: wheel.Mod210})
	if err != nil {
		t.Fatalf("threads=1: %v", err)
	}
	four, err := Run(Options{From: from, To: to, Threads: 4, Wheel: wheel.Mod210})
	if err != nil {
		t.Fatalf("threads=4: %v", err)
	}
	if one.TotalCount != four.TotalCount {
		t.Fatalf("thread-count dependent result: 1=%d 4=%d", one.TotalCount, four.TotalCount)
	}
}

func TestRunWheelChoiceIsCountInvariant(t *testing.T) {
	const from, to = 2, 30000
	want := countTrial(from, to)
	for _, w := range []wheel.Type{wheel.Mod30, wheel.Mod210, wheel.Mod1155} {
		res, err := Run(Options{From: from, To: to, Threads: 2, Wheel: w})
		if err != nil {
			t.Fatalf("wheel %v: %v", w, err)
		}
		if res.TotalCount != want {
			t.Fatalf("wheel %v: TotalCount = %d, want %d", w, res.TotalCount, want)
		}
	}
}

func TestRunPrimeCallbackDeliversAscendingAndComplete(t *testing.T) {
	const from, to = 2, 40000
	var got []uint64
	res, err := Run(Options{
		From: from, To: to, Threads: 4, Wheel: wheel.Mod30,
		PrimeCallback: func(primes []uint64) bool {
			got = append(got, primes...)
			return false
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if uint64(len(got)) != res.TotalCount {
		t.Fatalf("delivered %d primes, TotalCount says %d", len(got), res.TotalCount)
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("primes not strictly ascending at index %d: %d then %d", i, got[i-1], got[i])
		}
	}
	want := countTrial(from, to)
	if uint64(len(got)) != want {
		t.Fatalf("got %d primes, want %d", len(got), want)
	}
}

func TestRunCollectPrimesMatchesCallbackDeliveryWhenBothSucceed(t *testing.T) {
	const from, to = 2, 40000
	var fromCallback []uint64
	res, err := Run(Options{
		From: from, To: to, Threads: 4, Wheel: wheel.Mod30,
		CollectPrimes: true,
		PrimeCallback: func(primes []uint64) bool {
			fromCallback = append(fromCallback, primes...)
			return false
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusOK {
		t.Fatalf("status = %v", res.Status)
	}
	var fromCollected []uint64
	for _, chunk := range res.PrimeChunks {
		fromCollected = append(fromCollected, chunk...)
	}
	if len(fromCollected) != len(fromCallback) {
		t.Fatalf("collected %d primes, callback saw %d", len(fromCollected), len(fromCallback))
	}
	for i := range fromCollected {
		if fromCollected[i] != fromCallback[i] {
			t.Fatalf("mismatch at %d: collected %d, callback %d", i, fromCollected[i], fromCallback[i])
		}
	}
}

func TestRunCallbackCancellationExcludesChunkFromCollectPrimes(t *testing.T) {
	const from, to = 2, 40000
	var seen int
	res, err := Run(Options{
		From: from, To: to, Threads: 1, Wheel: wheel.Mod30,
		CollectPrimes: true,
		PrimeCallback: func(primes []uint64) bool {
			seen++
			return seen == 1 // cancel on the very first chunk delivered (the prefix)
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusCancelled {
		t.Fatalf("status = %v, want Cancelled", res.Status)
	}
	for _, chunk := range res.PrimeChunks {
		if len(chunk) > 0 && chunk[0] == 2 {
			t.Fatal("the cancelling chunk must not appear in PrimeChunks")
		}
	}
}

func TestRunNthPrimeWithinPrefix(t *testing.T) {
	res, err := Run(Options{From: 0, To: 100, NthIndex: 1, Wheel: wheel.Mod30})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.NthFound || res.NthValue != 2 {
		t.Fatalf("1st prime = %d (found=%v), want 2", res.NthValue, res.NthFound)
	}
}

func TestRunNthPrimeBeyondPrefix(t *testing.T) {
	const from, to = 0, 100000
	want := countTrial(from, to)
	all := make([]uint64, 0, want)
	for v := uint64(from); v < to; v++ {
		if isPrimeTrial(v) {
			all = append(all, v)
		}
	}

	for _, k := range []uint64{1, 5, 500, uint64(len(all))} {
		res, err := Run(Options{From: from, To: to, NthIndex: k, Wheel: wheel.Mod30})
		if err != nil {
			t.Fatalf("k=%d: %v", k, err)
		}
		if !res.NthFound {
			t.Fatalf("k=%d: not found", k)
		}
		if res.NthValue != all[k-1] {
			t.Fatalf("k=%d: got %d, want %d", k, res.NthValue, all[k-1])
		}
	}
}

func TestRunMeisselMatchesSieveCount(t *testing.T) {
	const from, to = 2, 100000
	sieved, err := Run(Options{From: from, To: to, Threads: 2, Wheel: wheel.Mod30})
	if err != nil {
		t.Fatalf("sieve run: %v", err)
	}
	ml, err := Run(Options{From: from, To: to, Wheel: wheel.Mod30, UseMeissel: true})
	if err != nil {
		t.Fatalf("meissel run: %v", err)
	}
	if ml.TotalCount != sieved.TotalCount {
		t.Fatalf("meissel count = %d, sieve count = %d", ml.TotalCount, sieved.TotalCount)
	}
}

func TestRunRejectsInvalidRange(t *testing.T) {
	if _, err := Run(Options{From: 100, To: 50, Wheel: wheel.Mod30}); err == nil {
		t.Fatal("expected error for to < from")
	}
	if _, err := Run(Options{From: 0, To: 1, Wheel: wheel.Mod30}); err == nil {
		t.Fatal("expected error for to < 2")
	}
}

func TestRunRejectsMeisselWithPrimeDelivery(t *testing.T) {
	_, err := Run(Options{
		From: 2, To: 100, Wheel: wheel.Mod30, UseMeissel: true,
		PrimeCallback: func(primes []uint64) bool { return false },
	})
	if err == nil {
		t.Fatal("expected error combining --ml with prime delivery")
	}
}

func TestRunCancelTokenStopsEarly(t *testing.T) {
	const from, to = 2, 2000000
	token := &CancelToken{}
	var delivered int
	res, err := Run(Options{
		From: from, To: to, Threads: 1, Wheel: wheel.Mod30,
		CancelToken: token,
		PrimeCallback: func(primes []uint64) bool {
			delivered += len(primes)
			token.Cancel()
			return false
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusCancelled {
		t.Fatalf("status = %v, want Cancelled", res.Status)
	}
	if !res.Cancelled {
		t.Fatal("Cancelled flag not set")
	}
}

func TestRunProgressCallbackReachesOne(t *testing.T) {
	const from, to = 2, 30000
	var last float64
	_, err := Run(Options{
		From: from, To: to, Threads: 2, Wheel: wheel.Mod30,
		ProgressCallback: func(fraction float64) bool {
			last = fraction
			return false
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if last != 1.0 {
		t.Fatalf("final progress = %v, want 1.0", last)
	}
}

func TestRunPrimeCallbackPanicBecomesInternalError(t *testing.T) {
	const from, to = 2, 30000
	res, err := Run(Options{
		From: from, To: to, Threads: 2, Wheel: wheel.Mod30,
		PrimeCallback: func(primes []uint64) bool {
			panic("boom")
		},
	})
	if err == nil {
		t.Fatal("expected a non-nil error from a panicking prime callback")
	}
	if res.Status != StatusInternalError {
		t.Fatalf("status = %v, want InternalError", res.Status)
	}
}

func TestRunProgressCallbackPanicBecomesInternalError(t *testing.T) {
	const from, to = 2, 30000
	res, err := Run(Options{
		From: from, To: to, Threads: 2, Wheel: wheel.Mod30,
		ProgressCallback: func(fraction float64) bool {
			panic("boom")
		},
	})
	if err == nil {
		t.Fatal("expected a non-nil error from a panicking progress callback")
	}
	if res.Status != StatusInternalError {
		t.Fatalf("status = %v, want InternalError", res.Status)
	}
}
