package core

import (
	"math"
	"math/big"
)

// Currency rules (§4.1): a pure, stateless set of functions consulted by the
// blockchain engine and the pool. Parameters live on Params rather than as
// package constants so mainnet/testnet configurations can coexist, mirroring
// original_source's Currency class holding m_upgradeHeightV* etc. as
// instance fields.
type Params struct {
	Testnet bool

	Coin        uint64
	MoneySupply uint64

	MinedMoneyUnlockWindow  uint32
	BlockFutureTimeLimit    uint64
	TimestampCheckWindow    uint32
	TimestampCheckWindowV1  uint32 // post-LWMA3

	RewardBlocksWindow        uint32
	BlockGrantedFullRewardZone uint64
	MaxBlockSizeInitial       uint64
	MaxBlockSizeGrowthNum     uint64
	MaxBlockSizeGrowthDenom   uint64

	DifficultyTarget uint64
	DifficultyWindow uint32
	DifficultyCut    uint32
	DifficultyLag    uint32

	UpgradeHeightV2 uint32
	UpgradeHeightV3 uint32
	UpgradeHeightV4 uint32
	UpgradeHeightV5 uint32
	UpgradeHeightV6 uint32
	UpgradeHeightV7 uint32
	UpgradeHeightV8 uint32
	UpgradeHeightV9 uint32

	StartBlockReward        uint64
	MaxBlockReward          uint64
	MaxBlockRewardV1        uint64
	MaxBlockRewardV2        uint64
	RewardIncreaseInterval  uint64
	FoundationTrust         uint64
	FoundationTrust1        uint64

	DepositMinAmount        uint64
	DepositMinTerm          uint32
	DepositMaxTerm          uint32
	DepositMinTermV3        uint32
	DepositMaxTermV3        uint32
	DepositHeightV3         uint32
	DepositMinTotalRateFactor uint64
	DepositMaxTotalRate     uint64
	MultiplierFactor        uint64
	EndMultiplierBlock      uint32
	BlockWithMissingInterest uint32

	FusionTxMaxSize            uint64
	FusionTxMinInputCount       int
	FusionTxMinInOutCountRatio  int

	MinimumFee uint64
}

// MainnetParams reproduces the Conceal/Syfer-family constants recorded in
// original_source/src/CryptoNoteConfig.h.
func MainnetParams() Params {
	coin := uint64(1_000_000)
	point := uint64(1_000)
	rewardFullZone := uint64(100_000)
	return Params{
		Coin:        coin,
		MoneySupply: 9_999_000_000_000_000,

		MinedMoneyUnlockWindow: 10,
		BlockFutureTimeLimit:   60 * 60 * 2,
		TimestampCheckWindow:   30,
		TimestampCheckWindowV1: 11,

		RewardBlocksWindow:         100,
		BlockGrantedFullRewardZone: rewardFullZone,
		MaxBlockSizeInitial:        rewardFullZone * 10,
		MaxBlockSizeGrowthNum:      100 * 1024,
		MaxBlockSizeGrowthDenom:    365 * 24 * 60 * 60 / 120,

		DifficultyTarget: 120,
		DifficultyWindow: 60,
		DifficultyCut:    60,
		DifficultyLag:    15,

		UpgradeHeightV2: 1,
		UpgradeHeightV3: 101,
		UpgradeHeightV4: 201,
		UpgradeHeightV5: 301,
		UpgradeHeightV6: 401,
		UpgradeHeightV7: 501,
		UpgradeHeightV8: 601,
		UpgradeHeightV9: 6000,

		StartBlockReward:       5000 * point,
		MaxBlockReward:         15 * coin,
		MaxBlockRewardV1:       6 * coin,
		MaxBlockRewardV2:       12 * coin,
		RewardIncreaseInterval: 21900,
		FoundationTrust:        1_000_000 * coin,
		FoundationTrust1:       800_000_000 * coin,

		DepositMinAmount:          1 * coin,
		DepositMinTerm:            5040,
		DepositMaxTerm:            1 * 12 * 21900,
		DepositMinTermV3:          21900,
		DepositMaxTermV3:          1 * 12 * 21900,
		DepositHeightV3:           580,
		DepositMinTotalRateFactor: 0,
		DepositMaxTotalRate:       4,
		MultiplierFactor:          100,
		EndMultiplierBlock:        101,
		BlockWithMissingInterest:  0,

		FusionTxMaxSize:           rewardFullZone * 30 / 100,
		FusionTxMinInputCount:     12,
		FusionTxMinInOutCountRatio: 4,

		MinimumFee: 10,
	}
}

// TestnetParams shortens deposit terms and upgrade heights for fast-cycle
// integration tests, matching original_source's TESTNET_* overrides.
func TestnetParams() Params {
	p := MainnetParams()
	p.Testnet = true
	p.UpgradeHeightV2 = 1
	p.UpgradeHeightV3 = 12
	p.UpgradeHeightV4 = 24
	p.UpgradeHeightV5 = 36
	p.UpgradeHeightV6 = 48
	p.UpgradeHeightV7 = 60
	p.UpgradeHeightV8 = 72
	p.UpgradeHeightV9 = 100
	p.DepositMinTermV3 = 30
	p.DepositMaxTermV3 = 12 * 30
	p.DepositHeightV3 = 60
	p.BlockWithMissingInterest = 0
	return p
}

// VersionForHeight returns the consensus epoch's block major version for
// the given height.
func (p Params) VersionForHeight(height uint32) uint8 {
	switch {
	case height >= p.UpgradeHeightV9:
		return 9
	case height >= p.UpgradeHeightV8:
		return 8
	case height >= p.UpgradeHeightV7:
		return 7
	case height >= p.UpgradeHeightV6:
		return 4 // LWMA3 epoch keeps major version 4 until V7's cryptonight change
	case height >= p.UpgradeHeightV4, height >= p.UpgradeHeightV3:
		return 3
	case height >= p.UpgradeHeightV2:
		return 2
	default:
		return 1
	}
}

// BaseReward implements base_reward(already_generated_coins, height).
// The two hard-coded heights and their anomalous amounts are chain-specific
// patches preserved verbatim per §9's open question; they are not "fixed".
func (p Params) BaseReward(alreadyGenerated uint64, height uint32) uint64 {
	if height == 56450 {
		return p.FoundationTrust1
	}
	if height == 59215 {
		return p.FoundationTrust1 * 10
	}
	if height >= 1 && height < 101 {
		return p.FoundationTrust
	}

	var reward uint64
	switch {
	case height > p.UpgradeHeightV9:
		reward = p.MaxBlockRewardV2
	case height > p.UpgradeHeightV8:
		reward = p.MaxBlockRewardV1
	default:
		intervals := uint64(height) / p.RewardIncreaseInterval
		const maxIntervals = 48
		if intervals > maxIntervals {
			intervals = maxIntervals
		}
		reward = p.StartBlockReward + intervals*250_000
	}

	if reward > p.MaxBlockReward {
		reward = p.MaxBlockReward
	}
	if alreadyGenerated < p.MoneySupply {
		if remaining := p.MoneySupply - alreadyGenerated; reward > remaining {
			reward = remaining
		}
	} else {
		reward = 0
	}
	return reward
}

// getPenalizedAmount implements the CryptoNote quadratic block-size penalty:
// amount * currentSize * (2*medianSize - currentSize) / medianSize^2, computed via
// 128-bit intermediate arithmetic (math/big stands in for the reference
// mul128/div128_32 helpers).
func getPenalizedAmount(amount uint64, medianSize, currentSize uint64) uint64 {
	if currentSize <= medianSize {
		return amount
	}
	product := new(big.Int).Mul(big.NewInt(0).SetUint64(amount), big.NewInt(0).SetUint64(currentSize*(2*medianSize-currentSize)))
	denom := new(big.Int).SetUint64(medianSize)
	denom2 := new(big.Int).Mul(denom, denom)
	out := new(big.Int).Quo(product, denom2)
	return out.Uint64()
}

// BlockReward implements block_reward(median_size, block_size,
// already_generated, fees, height) -> (reward, emission_change, ok).
func (p Params) BlockReward(medianSize, blockSize uint64, alreadyGenerated, fees uint64, height uint32) (reward uint64, emissionChange int64, ok bool) {
	base := p.BaseReward(alreadyGenerated, height)
	if medianSize < p.BlockGrantedFullRewardZone {
		medianSize = p.BlockGrantedFullRewardZone
	}
	if blockSize > 2*medianSize {
		return 0, 0, false
	}
	penalizedBase := getPenalizedAmount(base, medianSize, blockSize)
	penalizedFee := getPenalizedAmount(fees, medianSize, blockSize)
	emissionChange = int64(penalizedBase) - int64(fees-penalizedFee)
	reward = penalizedBase + penalizedFee
	return reward, emissionChange, true
}

// MaxBlockCumulativeSize implements max_block_cumulative_size(height).
func (p Params) MaxBlockCumulativeSize(height uint32) uint64 {
	return p.MaxBlockSizeInitial + (uint64(height)*p.MaxBlockSizeGrowthNum)/p.MaxBlockSizeGrowthDenom
}

// Interest implements interest(amount, term, lock_height) across the three
// consensus-era regimes described in §4.1.
func (p Params) Interest(amount uint64, term uint32, lockHeight uint32) uint64 {
	if term%p.DepositMinTermV3 == 0 && lockHeight > p.DepositHeightV3 {
		return p.interestV3(amount, term)
	}
	if term%64800 == 0 {
		return p.interestV2Investment(amount, term)
	}
	if term%5040 == 0 {
		return p.interestV2Weekly(amount, term)
	}
	return p.interestV1(amount, term, lockHeight)
}

// InterestForInput implements getInterestForInput's lock-height derivation,
// including the BLOCK_WITH_MISSING_INTEREST bug-compatible collapse: when
// height equals that recorded height, the effective lock height becomes the
// current height rather than height-term. Do not "fix" this (§9).
func (p Params) InterestForInput(amount uint64, term uint32, height uint32) uint64 {
	lockHeight := height - term
	if height == p.BlockWithMissingInterest {
		lockHeight = height
	}
	return p.Interest(amount, term, lockHeight)
}

func (p Params) interestV3(amount uint64, term uint32) uint64 {
	amount4Humans := float64(amount) / float64(p.Coin)
	baseInterest := 0.029
	if amount4Humans >= 10000 && amount4Humans < 20000 {
		baseInterest = 0.039
	}
	if amount4Humans >= 20000 {
		baseInterest = 0.049
	}
	months := float64(term) / float64(p.DepositMinTermV3)
	if months > 12 {
		months = 12
	}
	ear := baseInterest + (months-1)*0.001
	eir := (ear / 12) * months
	return uint64(float64(amount) * eir)
}

func (p Params) interestV2Investment(amount uint64, term uint32) uint64 {
	amount4Humans := amount / p.Coin
	qTier := 1.0
	switch {
	case amount4Humans > 110000 && amount4Humans < 180000:
		qTier = 1.01
	case amount4Humans >= 180000 && amount4Humans < 260000:
		qTier = 1.02
	case amount4Humans >= 260000 && amount4Humans < 350000:
		qTier = 1.03
	case amount4Humans >= 350000 && amount4Humans < 450000:
		qTier = 1.04
	case amount4Humans >= 450000 && amount4Humans < 560000:
		qTier = 1.05
	case amount4Humans >= 560000 && amount4Humans < 680000:
		qTier = 1.06
	case amount4Humans >= 680000 && amount4Humans < 810000:
		qTier = 1.07
	case amount4Humans >= 810000 && amount4Humans < 950000:
		qTier = 1.08
	case amount4Humans >= 950000 && amount4Humans < 1100000:
		qTier = 1.09
	case amount4Humans >= 1100000 && amount4Humans < 1260000:
		qTier = 1.10
	case amount4Humans >= 1260000 && amount4Humans < 1430000:
		qTier = 1.11
	case amount4Humans >= 1430000 && amount4Humans < 1610000:
		qTier = 1.12
	case amount4Humans >= 1610000 && amount4Humans < 1800000:
		qTier = 1.13
	case amount4Humans >= 1800000 && amount4Humans < 2000000:
		qTier = 1.14
	case amount4Humans > 2000000:
		qTier = 1.15
	}

	const mq = 1.4473
	quarters := float64(term) / 64800
	m8 := 100.0*math.Pow(1.0+mq/100.0, quarters) - 100.0
	m5 := quarters * 0.5
	m7 := m8 * (1 + m5/100)
	rate := m7 * qTier
	return uint64(float64(amount) * (rate / 100))
}

func (p Params) interestV2Weekly(amount uint64, term uint32) uint64 {
	weeks := float64(term) / 5040
	baseInterest := 0.0696
	interestPerWeek := 0.0002
	rate := baseInterest + weeks*interestPerWeek
	return uint64(float64(amount) * ((weeks * rate) / 100))
}

func (p Params) interestV1(amount uint64, term uint32, lockHeight uint32) uint64 {
	a := new(big.Int).Mul(big.NewInt(int64(term)), new(big.Int).SetUint64(p.DepositMaxTotalRate))
	a.Sub(a, new(big.Int).SetUint64(p.DepositMinTotalRateFactor))
	product := new(big.Int).Mul(new(big.Int).SetUint64(amount), a)
	denom := new(big.Int).SetUint64(100 * uint64(p.DepositMaxTerm))
	interest := new(big.Int).Quo(product, denom)
	if lockHeight <= p.EndMultiplierBlock {
		interest.Mul(interest, new(big.Int).SetUint64(p.MultiplierFactor))
	}
	return interest.Uint64()
}
