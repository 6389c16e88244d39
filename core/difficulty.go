package core

import "sort"

// Difficulty is the cumulative-work unit; the chain with the higher
// cumulative difficulty is preferred (Glossary).
type Difficulty = uint64

// TimestampDifficultyPair is one entry of the classic difficulty window: a
// block's timestamp and the chain's cumulative difficulty through it.
type TimestampDifficultyPair struct {
	Timestamp  uint64
	Cumulative Difficulty
}

// NextDifficulty dispatches to the algorithm selected by the block's major
// version (§4.1): classic windowed averaging for v1-v3, LWMA3 for v4-v7,
// LWMA1 for v8+.
func (p Params) NextDifficulty(version uint8, height uint32, window []TimestampDifficultyPair) Difficulty {
	switch {
	case version >= params_BlockMajorV8:
		return p.nextDifficultyLWMA1(window, height)
	case version >= params_BlockMajorV4:
		return p.nextDifficultyLWMA3(window, height)
	default:
		return p.nextDifficultyClassic(window)
	}
}

// These mirror protocol/params constants without importing that package
// from core (core must stay import-free of the protocol layer so params
// can in turn depend on neither); they duplicate the protocol/params
// values of the same name and no test checks that the two stay identical.
const (
	params_BlockMajorV4 = 4
	params_BlockMajorV8 = 8
)

// nextDifficultyClassic implements the v1-v3 algorithm: cut DIFFICULTY_CUT
// timestamps from each end after sorting, then D = totalWork*target/span.
func (p Params) nextDifficultyClassic(window []TimestampDifficultyPair) Difficulty {
	if uint32(len(window)) > p.DifficultyWindow {
		window = window[len(window)-int(p.DifficultyWindow):]
	}
	length := len(window)
	if length <= 1 {
		return 1
	}

	timestamps := make([]uint64, length)
	cumulative := make([]Difficulty, length)
	for i, w := range window {
		timestamps[i] = w.Timestamp
		cumulative[i] = w.Cumulative
	}
	order := make([]int, length)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return timestamps[order[a]] < timestamps[order[b]] })
	sortedTimestamps := make([]uint64, length)
	for i, idx := range order {
		sortedTimestamps[i] = timestamps[idx]
	}

	cut := int(p.DifficultyCut)
	cutBegin, cutEnd := 0, length
	if length > int(p.DifficultyWindow)-2*cut {
		cutBegin = (length - (int(p.DifficultyWindow) - 2*cut) + 1) / 2
		cutEnd = cutBegin + (int(p.DifficultyWindow) - 2*cut)
	}
	if cutEnd > length {
		cutEnd = length
	}
	if cutBegin+2 > cutEnd {
		return 1
	}

	timeSpan := sortedTimestamps[cutEnd-1] - sortedTimestamps[cutBegin]
	if timeSpan == 0 {
		timeSpan = 1
	}
	// Use the unsorted cumulative-difficulty window endpoints aligned with
	// the block order, not the timestamp order, matching the reference's
	// pairing by original (unsorted) index range.
	totalWork := cumulative[cutEnd-1] - cumulative[cutBegin]

	low := totalWork * p.DifficultyTarget
	return (low + timeSpan - 1) / timeSpan
}

// nextDifficultyLWMA3 implements Zawy's LWMA3 (N=60, T=120) with the jump
// rule and the two chain-specific height short-circuits preserved verbatim
// per §9's open question.
func (p Params) nextDifficultyLWMA3(window []TimestampDifficultyPair, height uint32) Difficulty {
	if height == 56630 {
		return 100
	}
	if height >= 59212 {
		return 1000
	}

	const T = uint64(120)
	N := uint64(60)
	if len(window) <= 10 {
		return 100
	}
	if uint64(len(window)) < N+1 {
		N = uint64(len(window)) - 1
	}

	var L, sum3ST uint64
	previous := window[0].Timestamp
	for i := uint64(1); i <= N; i++ {
		this := window[i].Timestamp
		if this <= previous {
			this = previous + 1
		}
		st := this - previous
		if st > 6*T {
			st = 6 * T
		}
		previous = this
		L += st * i
		if i > N-3 {
			sum3ST += st
		}
	}

	nextD := ((window[N].Cumulative - window[0].Cumulative) * T * (N + 1) * 99) / (100 * 2 * L)
	prevD := window[N].Cumulative - window[N-1].Cumulative

	lo := prevD * 67 / 100
	hi := prevD * 150 / 100
	if nextD < lo {
		nextD = lo
	}
	if nextD > hi {
		nextD = hi
	}
	if sum3ST < (8*T)/10 {
		bump := prevD * 108 / 100
		if bump > nextD {
			nextD = bump
		}
	}
	return nextD
}

// nextDifficultyLWMA1 implements the smoothed LWMA1 variant used from
// UpgradeHeightV8 onward, with the L >= N^2*T/20 floor.
func (p Params) nextDifficultyLWMA1(window []TimestampDifficultyPair, height uint32) Difficulty {
	const T = uint64(120)
	const N = uint64(60)

	guess := uint64(3600)
	if p.Testnet {
		guess = 10
	}
	if height >= p.UpgradeHeightV8 && uint64(height) < uint64(p.UpgradeHeightV8)+N {
		return guess
	}
	if uint64(len(window)) < N+1 {
		return guess
	}

	var L uint64
	previous := window[0].Timestamp - T
	for i := uint64(1); i <= N; i++ {
		this := window[i].Timestamp
		if this <= previous {
			this = previous + 1
		}
		st := this - previous
		if st > 6*T {
			st = 6 * T
		}
		L += i * st
		previous = this
	}
	floor := N * N * T / 20
	if L < floor {
		L = floor
	}
	avgD := (window[N].Cumulative - window[0].Cumulative) / N

	var nextD uint64
	if avgD > 2_000_000*N*N*T {
		nextD = (avgD / (200 * L)) * (N * (N + 1) * T * 99)
	} else {
		nextD = (avgD * N * (N + 1) * T * 99) / (200 * L)
	}
	return roundSignificantDigits(nextD)
}

// roundSignificantDigits zeroes insignificant low-order digits so displayed
// difficulty values stay visually stable, matching the reference's
// "optional" rounding pass.
func roundSignificantDigits(nextD uint64) uint64 {
	i := uint64(1_000_000_000)
	for i > 1 {
		if nextD > i*100 {
			return ((nextD + i/2) / i) * i
		}
		i /= 10
	}
	return nextD
}
