// Package basesieve computes the small set of sieving primes (those up to
// sqrt(to)) that the segmented sieve uses to eliminate composites.
package basesieve

// SimpleSieve returns every prime <= limit using a classical odd-only sieve
// of Eratosthenes. It returns an empty slice for limit < 2.
func SimpleSieve(limit uint64) []uint32 {
	if limit < 2 {
		return nil
	}
	primes := []uint32{2}
	if limit == 2 {
		return primes
	}

	// composite[i] tracks the odd number 3+2i.
	n := (limit - 1) / 2
	composite := make([]bool, n)
	for i := uint64(0); i < n; i++ {
		if composite[i] {
			continue
		}
		p := 3 + 2*i
		primes = append(primes, uint32(p))
		if p > limit/p {
			continue
		}
		for j := (p*p - 3) / 2; j < n; j += p {
			composite[j] = true
		}
	}
	return primes
}
