package primecount

import (
	"testing"

	"calcprime/internal/basesieve"
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

func TestMillerRabinMatchesTrialDivision(t *testing.T) {
	for n := uint64(0); n < 100000; n++ {
		want := isPrimeTrial(n)
		got := MillerRabinIsPrime(n)
		if got != want {
			t.Fatalf("MillerRabinIsPrime(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestMillerRabinKnownLargePrime(t *testing.T) {
	// 2^61 - 1, a Mersenne prime.
	const p = (1 << 61) - 1
	if !MillerRabinIsPrime(p) {
		t.Fatalf("expected %d to be prime", p)
	}
	if MillerRabinIsPrime(p - 2) {
		t.Fatalf("expected %d to be composite", p-2)
	}
}

func TestCountMatchesBruteForce(t *testing.T) {
	const limit = 50000
	primes := basesieve.SimpleSieve(300) // sqrt(50000) ~ 224
	var want uint64
	for n := uint64(2); n < limit; n++ {
		if isPrimeTrial(n) {
			want++
		}
	}
	got := Count(0, limit, primes, 4)
	if got != want {
		t.Fatalf("Count(0, %d) = %d, want %d", limit, got, want)
	}
}

func TestCountSubrangeMatchesBruteForce(t *testing.T) {
	const from, to = 10000, 20000
	primes := basesieve.SimpleSieve(200)
	var want uint64
	for n := uint64(from); n < to; n++ {
		if isPrimeTrial(n) {
			want++
		}
	}
	got := Count(from, to, primes, 1)
	if got != want {
		t.Fatalf("Count(%d,%d) = %d, want %d", from, to, got, want)
	}
}

func TestCountIsThreadInvariant(t *testing.T) {
	const limit = 200000
	primes := basesieve.SimpleSieve(500)
	one := Count(0, limit, primes, 1)
	four := Count(0, limit, primes, 4)
	if one != four {
		t.Fatalf("thread-count dependent result: threads=1 -> %d, threads=4 -> %d", one, four)
	}
}
