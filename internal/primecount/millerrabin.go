package primecount

var millerRabinBases = [...]uint64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37}

func mulMod(a, b, mod uint64) uint64 {
	var result uint64
	a %= mod
	for b > 0 {
		if b&1 == 1 {
			result = (result + a) % mod
		}
		a = (a << 1) % mod
		b >>= 1
	}
	return result
}

func modPow(base, exp, mod uint64) uint64 {
	result := uint64(1) % mod
	b := base % mod
	for exp > 0 {
		if exp&1 == 1 {
			result = mulMod(result, b, mod)
		}
		b = mulMod(b, b, mod)
		exp >>= 1
	}
	return result
}

func checkComposite(n, a, d uint64, r uint) bool {
	x := modPow(a, d, n)
	if x == 1 || x == n-1 {
		return false
	}
	for i := uint(1); i < r; i++ {
		x = mulMod(x, x, n)
		if x == n-1 {
			return false
		}
	}
	return true
}

// MillerRabinIsPrime is a deterministic primality test for all uint64
// values, using the fixed witness set {2,3,5,7,...,37} (sufficient for
// every n < 3.3*10^24, which covers the full 64-bit range).
func MillerRabinIsPrime(n uint64) bool {
	if n < 2 {
		return false
	}
	for _, p := range millerRabinBases {
		if n == p {
			return true
		}
		if n%p == 0 {
			return false
		}
	}

	d := n - 1
	var r uint
	for d&1 == 0 {
		d >>= 1
		r++
	}

	for _, a := range millerRabinBases {
		if a%n == 0 {
			continue
		}
		if checkComposite(n, a, d, r) {
			return false
		}
	}
	return true
}
