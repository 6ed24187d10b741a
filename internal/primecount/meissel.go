// Package primecount implements the Meissel-Lehmer combinatorial prime
// counting function and the Miller-Rabin primality test.
package primecount

import (
	"sort"
	"sync"
)

var smallPrimes = [...]uint32{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37}

func smallPi(n uint64) uint64 {
	idx := sort.Search(len(smallPrimes), func(i int) bool { return uint64(smallPrimes[i]) > n })
	return uint64(idx)
}

type phiKey struct {
	x uint64
	s int
}

// Calculator evaluates pi(n) for a fixed set of sieving primes (every prime
// up to at least sqrt(maximum n it will be asked about)), memoizing both pi
// and phi across calls the way a single count operation's recursion does.
type Calculator struct {
	primes   []uint32
	maxPrime uint64

	phiMu    sync.Mutex
	phiCache map[phiKey]uint64

	piMu    sync.Mutex
	piCache map[uint64]uint64
}

// NewCalculator builds a calculator from an ascending list of primes (as
// produced by basesieve.SimpleSieve).
func NewCalculator(primes []uint32) *Calculator {
	c := &Calculator{
		primes:   primes,
		phiCache: make(map[phiKey]uint64),
		piCache:  make(map[uint64]uint64),
	}
	if len(primes) > 0 {
		c.maxPrime = uint64(primes[len(primes)-1])
	}
	return c
}

// Pi returns the number of primes <= n, using threads goroutines for the
// outer combinatorial summation when the recursive path is taken.
func (c *Calculator) Pi(n uint64, threads int) uint64 {
	if n < 2 {
		return 0
	}
	if len(c.primes) == 0 {
		return smallPi(n)
	}
	if n <= c.maxPrime {
		idx := sort.Search(len(c.primes), func(i int) bool { return uint64(c.primes[i]) > n })
		return uint64(idx)
	}

	c.piMu.Lock()
	if cached, ok := c.piCache[n]; ok {
		c.piMu.Unlock()
		return cached
	}
	c.piMu.Unlock()

	a := c.Pi(integerFourthRoot(n), 1)
	b := c.Pi(integerSqrt(n), 1)
	cc := c.Pi(integerCubeRoot(n), 1)

	result := c.phi(n, int(a))
	if b+a >= 2 {
		left := b + a - 2
		right := b - a + 1
		result += (left * right) / 2
	}

	effectiveB := b
	if uint64(len(c.primes)) < effectiveB {
		effectiveB = uint64(len(c.primes))
	}
	var iterationCount uint64
	if effectiveB > a {
		iterationCount = effectiveB - a
	}

	computeRange := func(start, end uint64) uint64 {
		var subtotal uint64
		for i := start; i < end; i++ {
			index := i - 1
			if index >= uint64(len(c.primes)) {
				break
			}
			p := uint64(c.primes[index])
			w := n / p
			subtotal += c.Pi(w, 1)
			if i <= cc {
				limit := c.Pi(integerSqrt(w), 1)
				for j := i; j <= limit; j++ {
					jIndex := j - 1
					if jIndex >= uint64(len(c.primes)) {
						break
					}
					pj := uint64(c.primes[jIndex])
					subtotal += c.Pi(w/pj, 1) - (j - 1)
				}
			}
		}
		return subtotal
	}

	if iterationCount > 0 {
		if threads <= 1 || iterationCount == 1 {
			result -= computeRange(a+1, effectiveB+1)
		} else {
			workerCount := uint64(threads)
			if workerCount > iterationCount {
				workerCount = iterationCount
			}
			if workerCount == 0 {
				workerCount = 1
			}
			chunk := iterationCount / workerCount
			remainder := iterationCount % workerCount
			current := a + 1

			var wg sync.WaitGroup
			partials := make([]uint64, workerCount)
			for w := uint64(0); w < workerCount; w++ {
				size := chunk
				if w < remainder {
					size++
				}
				if size == 0 {
					continue
				}
				start, end := current, current+size
				current = end
				wg.Add(1)
				go func(idx, start, end uint64) {
					defer wg.Done()
					partials[idx] = computeRange(start, end)
				}(w, start, end)
			}
			wg.Wait()
			var subtractTotal uint64
			for _, p := range partials {
				subtractTotal += p
			}
			result -= subtractTotal
		}
	}

	c.piMu.Lock()
	if cached, ok := c.piCache[n]; ok {
		result = cached
	} else {
		c.piCache[n] = result
	}
	c.piMu.Unlock()
	return result
}

func (c *Calculator) phi(x uint64, s int) uint64 {
	if s == 0 {
		return x
	}
	if s == 1 {
		return (x + 1) >> 1
	}
	if s > len(c.primes) {
		return c.phi(x, len(c.primes))
	}
	key := phiKey{x, s}
	c.phiMu.Lock()
	if cached, ok := c.phiCache[key]; ok {
		c.phiMu.Unlock()
		return cached
	}
	c.phiMu.Unlock()

	result := c.phi(x, s-1)
	p := uint64(c.primes[s-1])
	result -= c.phi(x/p, s-1)

	c.phiMu.Lock()
	c.phiCache[key] = result
	c.phiMu.Unlock()
	return result
}

func countSmallRange(from, to uint64) uint64 {
	countUpTo := func(bound uint64) uint64 {
		if bound < 2 {
			return 0
		}
		return smallPi(bound)
	}
	var upper, lower uint64
	if to != 0 {
		upper = countUpTo(to - 1)
	}
	if from != 0 {
		lower = countUpTo(from - 1)
	}
	if upper >= lower {
		return upper - lower
	}
	return 0
}

// Count returns the number of primes in [from, to) using the combinatorial
// method, falling back to a direct small-prime count when primes is empty
// (the range lies entirely below the smallest sieving prime needed).
func Count(from, to uint64, primes []uint32, threads int) uint64 {
	if to <= from {
		return 0
	}
	if len(primes) == 0 {
		return countSmallRange(from, to)
	}
	if threads <= 0 {
		threads = 1
	}
	calc := NewCalculator(primes)
	upper := calc.Pi(to-1, threads)
	var lower uint64
	if from != 0 {
		lower = calc.Pi(from-1, threads)
	}
	if upper >= lower {
		return upper - lower
	}
	return 0
}
