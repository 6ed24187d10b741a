// Package marker classifies sieving primes into small/medium/large tiers and
// marks composite bits for one segment at a time.
package marker

import (
	"calcprime/internal/bucket"
	"calcprime/internal/segmenter"
	"calcprime/internal/wheel"
)

// LargePrimeState tracks one large sieving prime's progress across segments.
// At most one composite hit per segment, so it is scheduled via the bucket
// ring rather than stepped every segment.
type LargePrimeState struct {
	Prime     uint32
	Stride    uint64
	NextValue uint64
}

// TileView is the window a small/medium marking pass writes into: a
// contiguous slice of words covering [StartValue, StartValue+2*BitCount).
type TileView struct {
	StartValue uint64
	BitCount   int
	Words      []uint64
}

// Marker holds the read-only, once-built classification of sieving primes
// for a run. It is shared (read-only) across every worker; per-worker mutable
// progress lives in ThreadState.
type Marker struct {
	wheel  *wheel.Wheel
	config segmenter.Config

	rangeBegin, rangeEnd uint64

	smallPrimes    []uint32
	smallInitial   []uint64
	smallPatterns  []*wheel.Pattern

	mediumPrimes  []uint32
	mediumInitial []uint64

	largeTemplate []LargePrimeState
}

func firstHit(prime uint32, start uint64) uint64 {
	p := uint64(prime)
	begin := p * p
	if begin < start {
		begin = start
	}
	if rem := begin % p; rem != 0 {
		begin += p - rem
	}
	if begin&1 == 0 {
		begin += p
	}
	return begin
}

func findSmallPattern(w *wheel.Wheel, prime uint32) *wheel.Pattern {
	for i := range w.SmallPatterns {
		if w.SmallPatterns[i].Prime == prime {
			return &w.SmallPatterns[i]
		}
	}
	return nil
}

// New classifies primes (the sieving primes up to sqrt(to), from basesieve)
// for a run over [rangeBegin, rangeEnd) using the given wheel and segment
// geometry. smallPrimeLimit is the wheel's own small-prime cutoff (29 for
// Mod30, 47 for Mod210/Mod1155). Primes the wheel already eliminates via
// ApplyPresieve are not skipped: they are handled here identically to any
// other small prime, since presieve and phase-mask marking are independent
// passes that both run.
func New(w *wheel.Wheel, config segmenter.Config, rangeBegin, rangeEnd uint64, primes []uint32, smallPrimeLimit uint32) *Marker {
	m := &Marker{wheel: w, config: config, rangeBegin: rangeBegin, rangeEnd: rangeEnd}
	largeThreshold := config.SegmentSpan / 2

	for _, p := range primes {
		if p < 2 || p == 2 {
			continue
		}
		switch {
		case p <= smallPrimeLimit:
			m.smallPrimes = append(m.smallPrimes, p)
			m.smallInitial = append(m.smallInitial, firstHit(p, rangeBegin))
			m.smallPatterns = append(m.smallPatterns, findSmallPattern(w, p))
		case uint64(p) <= largeThreshold:
			m.mediumPrimes = append(m.mediumPrimes, p)
			m.mediumInitial = append(m.mediumInitial, firstHit(p, rangeBegin))
		default:
			m.largeTemplate = append(m.largeTemplate, LargePrimeState{
				Prime:     p,
				Stride:    uint64(p) * 2,
				NextValue: firstHit(p, rangeBegin),
			})
		}
	}
	return m
}

// ThreadState is one worker's mutable sieving progress: its slice of owned
// large primes, their bucket-ring schedule, and the small/medium cursors.
type ThreadState struct {
	Bucket          bucket.Ring[*LargePrimeState]
	SmallPositions  []uint64
	MediumPositions []uint64
	LargeStates     []*LargePrimeState
}

func (m *Marker) segmentAndBase(value uint64) (segment, base uint64) {
	segment = (value - m.rangeBegin) / m.config.SegmentSpan
	base = m.rangeBegin + segment*m.config.SegmentSpan
	if base&1 == 0 {
		base++
	}
	return segment, base
}

// MakeThreadState builds the per-worker state for worker threadIndex out of
// threadCount, owning every large prime whose index modulo threadCount
// matches. Each owned large prime due before rangeEnd gets an initial bucket
// entry seeded at its first hit's segment.
func (m *Marker) MakeThreadState(threadIndex, threadCount int) *ThreadState {
	state := &ThreadState{
		SmallPositions:  append([]uint64(nil), m.smallInitial...),
		MediumPositions: append([]uint64(nil), m.mediumInitial...),
	}
	state.Bucket.Reset(0)

	for i := range m.largeTemplate {
		if i%threadCount != threadIndex {
			continue
		}
		lp := m.largeTemplate[i]
		owned := &lp
		state.LargeStates = append(state.LargeStates, owned)
		if owned.NextValue >= m.rangeEnd {
			continue
		}
		segment, _ := m.segmentAndBase(owned.NextValue)
		state.Bucket.Push(bucket.Entry[*LargePrimeState]{
			NextIndex: segment,
			Value:     owned.NextValue,
			Owner:     owned,
		})
	}
	return state
}

func stepsToReach(pos, target, step uint64) uint64 {
	if pos >= target {
		return pos
	}
	delta := target - pos
	skip := (delta + step - 1) / step
	return pos + skip*step
}

func (m *Marker) applySmallPrimes(state *ThreadState, tile TileView) {
	if tile.BitCount == 0 {
		return
	}
	tileEnd := tile.StartValue + uint64(tile.BitCount)*2

	for i, prime := range m.smallPrimes {
		step := uint64(prime) * 2
		pos := stepsToReach(state.SmallPositions[i], tile.StartValue, step)
		if pos >= tileEnd {
			state.SmallPositions[i] = pos
			continue
		}

		pattern := m.smallPatterns[i]
		if pattern != nil {
			bitIndex := int((pos - tile.StartValue) >> 1)
			wordIndex := bitIndex / 64
			if wordIndex < len(tile.Words) {
				bitInWord := uint(bitIndex % 64)
				phase := pattern.StartPhase[bitInWord]
				mask := pattern.Masks[phase]
				if bitInWord != 0 {
					mask &= ^uint64(0) << bitInWord
				}
				tile.Words[wordIndex] |= mask
				phase = uint8(pattern.NextPhase[phase])
				for w := wordIndex + 1; w < len(tile.Words); w++ {
					tile.Words[w] |= pattern.Masks[phase]
					phase = uint8(pattern.NextPhase[phase])
				}
			}
			state.SmallPositions[i] = stepsToReach(pos, tileEnd, step)
		} else {
			current := pos
			for current < tileEnd {
				bitIndex := int((current - tile.StartValue) >> 1)
				tile.Words[bitIndex/64] |= 1 << uint(bitIndex%64)
				current += step
			}
			state.SmallPositions[i] = current
		}
	}
}

func (m *Marker) applyMediumPrimes(state *ThreadState, tile TileView) {
	if tile.BitCount == 0 {
		return
	}
	tileEnd := tile.StartValue + uint64(tile.BitCount)*2

	for i, prime := range m.mediumPrimes {
		step := uint64(prime) * 2
		pos := stepsToReach(state.MediumPositions[i], tile.StartValue, step)
		for pos < tileEnd {
			bitIndex := int((pos - tile.StartValue) >> 1)
			tile.Words[bitIndex/64] |= 1 << uint(bitIndex%64)
			pos += step
		}
		state.MediumPositions[i] = pos
	}
}

func (m *Marker) applyLargePrimes(state *ThreadState, segmentID, segmentLow, segmentHigh uint64, bits []uint64) {
	hits := state.Bucket.Take(segmentID)
	for _, entry := range hits {
		if entry.Value >= segmentLow && entry.Value < segmentHigh {
			bitIndex := (entry.Value - segmentLow) >> 1
			bits[bitIndex/64] |= 1 << (bitIndex % 64)
		}
		owner := entry.Owner
		if owner == nil {
			continue
		}
		next := entry.Value + owner.Stride
		owner.NextValue = next
		if next >= m.rangeEnd {
			continue
		}
		segment, _ := m.segmentAndBase(next)
		state.Bucket.Push(bucket.Entry[*LargePrimeState]{
			NextIndex: segment,
			Value:     next,
			Owner:     owner,
		})
	}
}

func wordsForBits(bits int) int {
	return (bits + 63) / 64
}

// SieveSegment marks every composite position in [segmentLow, segmentHigh)
// into bits (resized and zeroed in place), then advances every small/medium
// cursor owned by state to the start of the next segment.
func (m *Marker) SieveSegment(state *ThreadState, segmentID, segmentLow, segmentHigh uint64, bits *[]uint64) {
	if segmentHigh <= segmentLow {
		*bits = (*bits)[:0]
		return
	}
	bitCount := int((segmentHigh - segmentLow) >> 1)
	if bitCount == 0 {
		*bits = (*bits)[:0]
		return
	}
	wordCount := wordsForBits(bitCount)
	if cap(*bits) < wordCount {
		*bits = make([]uint64, wordCount)
	} else {
		*bits = (*bits)[:wordCount]
		for i := range *bits {
			(*bits)[i] = 0
		}
	}
	b := *bits

	m.wheel.ApplyPresieve(segmentLow, bitCount, b)
	m.applyLargePrimes(state, segmentID, segmentLow, segmentHigh, b)

	tileLow := segmentLow
	bitOffset := 0
	for tileLow < segmentHigh {
		tileHigh := segmentHigh
		if tileLow+m.config.TileSpan < tileHigh {
			tileHigh = tileLow + m.config.TileSpan
		}
		tileBits := int((tileHigh - tileLow) >> 1)
		tileWords := wordsForBits(tileBits)
		tile := TileView{
			StartValue: tileLow,
			BitCount:   tileBits,
			Words:      b[bitOffset/64 : bitOffset/64+tileWords],
		}
		m.applySmallPrimes(state, tile)
		m.applyMediumPrimes(state, tile)
		if tileBits%64 != 0 && tileWords > 0 {
			mask := uint64(1)<<uint(tileBits%64) - 1
			tile.Words[tileWords-1] &= mask
		}
		tileLow = tileHigh
		bitOffset += tileBits
	}

	segmentEnd := segmentHigh
	for i, prime := range m.mediumPrimes {
		state.MediumPositions[i] = stepsToReach(state.MediumPositions[i], segmentEnd, uint64(prime)*2)
	}
	for i, prime := range m.smallPrimes {
		state.SmallPositions[i] = stepsToReach(state.SmallPositions[i], segmentEnd, uint64(prime)*2)
	}
}
