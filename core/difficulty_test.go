package core

import "testing"

func TestNextDifficultyClassicShortWindowReturnsOne(t *testing.T) {
	p := MainnetParams()
	if got := p.nextDifficultyClassic(nil); got != 1 {
		t.Fatalf("expected difficulty 1 for an empty window, got %d", got)
	}
	if got := p.nextDifficultyClassic([]TimestampDifficultyPair{{Timestamp: 1, Cumulative: 1}}); got != 1 {
		t.Fatalf("expected difficulty 1 for a single-entry window, got %d", got)
	}
}

func TestNextDifficultyClassicIncreasesWithMoreWork(t *testing.T) {
	p := MainnetParams()
	p.DifficultyWindow = 4
	p.DifficultyCut = 0

	window := func(lastCumulative Difficulty) []TimestampDifficultyPair {
		return []TimestampDifficultyPair{
			{Timestamp: 1000, Cumulative: 10},
			{Timestamp: 1120, Cumulative: 20},
			{Timestamp: 1240, Cumulative: 30},
			{Timestamp: 1360, Cumulative: lastCumulative},
		}
	}

	low := p.nextDifficultyClassic(window(40))
	high := p.nextDifficultyClassic(window(400))
	if high <= low {
		t.Fatalf("expected more cumulative work over the same span to raise difficulty: low=%d high=%d", low, high)
	}
}

func TestNextDifficultyLWMA3EarlyHeightShortCircuits(t *testing.T) {
	p := MainnetParams()
	if got := p.nextDifficultyLWMA3(nil, 56630); got != 100 {
		t.Fatalf("expected the height-56630 short-circuit to return 100, got %d", got)
	}
	if got := p.nextDifficultyLWMA3(nil, 59212); got != 1000 {
		t.Fatalf("expected the height>=59212 short-circuit to return 1000, got %d", got)
	}
	if got := p.nextDifficultyLWMA3(make([]TimestampDifficultyPair, 5), 1000); got != 100 {
		t.Fatalf("expected a too-short window to return the guess value 100, got %d", got)
	}
}

func TestNextDifficultyLWMA1GuessDuringUpgradeWindow(t *testing.T) {
	p := MainnetParams()
	p.Testnet = false
	if got := p.nextDifficultyLWMA1(nil, p.UpgradeHeightV8); got != 3600 {
		t.Fatalf("expected the mainnet guess value 3600 right at the v8 upgrade height, got %d", got)
	}

	p.Testnet = true
	if got := p.nextDifficultyLWMA1(nil, p.UpgradeHeightV8); got != 10 {
		t.Fatalf("expected the testnet guess value 10 right at the v8 upgrade height, got %d", got)
	}
}

func TestNextDifficultyDispatchesByMajorVersion(t *testing.T) {
	p := MainnetParams()

	classic := p.NextDifficulty(1, 100, nil)
	if classic != 1 {
		t.Fatalf("expected a v1 empty-window dispatch to hit the classic path and return 1, got %d", classic)
	}

	lwma3 := p.NextDifficulty(params_BlockMajorV4, 1000, make([]TimestampDifficultyPair, 5))
	if lwma3 != 100 {
		t.Fatalf("expected a v4 too-short-window dispatch to hit LWMA3's guess value 100, got %d", lwma3)
	}

	lwma1 := p.NextDifficulty(params_BlockMajorV8, p.UpgradeHeightV8, nil)
	if lwma1 != 3600 {
		t.Fatalf("expected a v8 dispatch right at the upgrade height to hit LWMA1's guess value 3600, got %d", lwma1)
	}
}

func TestRoundSignificantDigitsLeavesSmallValuesAlone(t *testing.T) {
	if got := roundSignificantDigits(42); got != 42 {
		t.Fatalf("expected a small value to pass through unrounded, got %d", got)
	}
}

func TestRoundSignificantDigitsRoundsLargeValues(t *testing.T) {
	got := roundSignificantDigits(123_456_789_012)
	if got%1_000_000 != 0 {
		t.Fatalf("expected a large value to be rounded to a multiple of 1e6, got %d", got)
	}
}
