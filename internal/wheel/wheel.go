// Package wheel builds the residue tables and small-prime phase masks used
// to pre-eliminate composites before the segmented sieve runs.
package wheel

import "sync"

// Type selects the wheel modulus.
type Type int

const (
	Mod30 Type = iota
	Mod210
	Mod1155
)

func (t Type) modulus() uint32 {
	switch t {
	case Mod30:
		return 30
	case Mod210:
		return 210
	case Mod1155:
		return 1155
	default:
		return 30
	}
}

func (t Type) smallLimit() uint32 {
	switch t {
	case Mod30:
		return 29
	default:
		return 47
	}
}

// Pattern holds the precomputed per-residue marking masks for one small
// sieving prime, used to clear a full 64-bit word of composite positions in
// one AND-free OR.
type Pattern struct {
	Prime      uint32
	WordStride uint32
	Masks      []uint64 // indexed by residue
	NextPhase  []uint32 // indexed by residue
	StartPhase [64]uint8
}

// Wheel is an immutable residue table for one modulus, plus the phase masks
// for every odd prime up to the wheel's small-prime limit (29 for Mod30, 47
// otherwise), including the primes that divide the modulus.
type Wheel struct {
	Type          Type
	Modulus       uint32
	Allowed       []bool // indexed by residue, len == Modulus
	Residues      []uint16
	Steps         []uint16 // Steps[i] = distance from Residues[i] to Residues[i+1 mod n]
	SmallPatterns []Pattern
}

var smallPrimeCandidates = [...]uint32{3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47}

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func buildSmallPattern(prime uint32) Pattern {
	p := Pattern{
		Prime:      prime,
		WordStride: 128 % prime,
		Masks:      make([]uint64, prime),
		NextPhase:  make([]uint32, prime),
	}
	for bit := 0; bit < 64; bit++ {
		twice := uint32(bit << 1)
		twice %= prime
		phase := prime - twice
		if phase == prime {
			phase = 0
		}
		p.StartPhase[bit] = uint8(phase)
	}
	inv2 := (prime + 1) / 2
	for residue := uint32(0); residue < prime; residue++ {
		var mask uint64
		offset := ((prime - residue) % prime) * inv2 % prime
		for offset < 64 {
			mask |= 1 << offset
			offset += prime
		}
		p.Masks[residue] = mask
		p.NextPhase[residue] = (residue + p.WordStride) % prime
	}
	return p
}

func build(modulus uint32, typ Type) *Wheel {
	w := &Wheel{Type: typ, Modulus: modulus, Allowed: make([]bool, modulus)}
	for r := uint32(0); r < modulus; r++ {
		if gcd(r, modulus) == 1 {
			w.Allowed[r] = true
			w.Residues = append(w.Residues, uint16(r))
		}
	}
	n := len(w.Residues)
	if n > 0 {
		w.Steps = make([]uint16, n)
		for i := 0; i < n; i++ {
			a := uint32(w.Residues[i])
			b := uint32(w.Residues[(i+1)%n])
			step := (b + modulus - a) % modulus
			if step == 0 {
				step = modulus
			}
			w.Steps[i] = uint16(step)
		}
	}

	limit := typ.smallLimit()
	for _, prime := range smallPrimeCandidates {
		if prime > limit {
			break
		}
		w.SmallPatterns = append(w.SmallPatterns, buildSmallPattern(prime))
	}
	return w
}

var (
	wheel30   = sync.OnceValue(func() *Wheel { return build(30, Mod30) })
	wheel210  = sync.OnceValue(func() *Wheel { return build(210, Mod210) })
	wheel1155 = sync.OnceValue(func() *Wheel { return build(1155, Mod1155) })
)

// Get returns the process-lifetime singleton for the given wheel type, built
// on first use.
func Get(t Type) *Wheel {
	switch t {
	case Mod210:
		return wheel210()
	case Mod1155:
		return wheel1155()
	default:
		return wheel30()
	}
}

// ApplyPresieve marks, in bits, the composite bit for every odd position in
// [startValue, startValue+2*bitCount) whose residue modulo w.Modulus is not
// coprime to it. bits must already be sized to ceil(bitCount/64) words and is
// only ever OR'd into, never cleared.
func (w *Wheel) ApplyPresieve(startValue uint64, bitCount int, bits []uint64) {
	if len(w.Allowed) == 0 {
		return
	}
	rem := uint32(startValue % uint64(w.Modulus))
	for idx := 0; idx < bitCount; idx++ {
		if !w.Allowed[rem] {
			bits[idx/64] |= 1 << (uint(idx) % 64)
		}
		rem += 2
		if rem >= w.Modulus {
			rem -= w.Modulus
		}
	}
}
