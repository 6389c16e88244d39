package wallet

import (
	"crypto/rand"
	"errors"
	"math/big"
	"sort"
)

var (
	ErrInsufficientFunds  = errors.New("wallet: insufficient funds")
	ErrNoSpendableOutputs = errors.New("wallet: no spendable outputs")
	ErrInputLimitExceeded = errors.New("wallet: input limit exceeded")
)

// maxSelectedInputs bounds how many KeyInputs a single transaction may
// spend, independent of any consensus-level input count limit.
const maxSelectedInputs = 256

// Selection is the result of choosing inputs for a transfer: the outputs to
// spend and the change to return to the sender, if any.
type Selection struct {
	Inputs []*OwnedOutput
	Total  uint64
	Change uint64
}

// SelectInputs chooses outputs to cover targetAmount using largest-first
// with change: repeatedly take the largest remaining spendable output until
// the running total covers the target, then return the excess as change.
// Grounded on the teacher's selectLargestFirstCapped (kept as the core loop,
// promoted from fallback-only to the package's primary strategy), since
// largest-first minimizes the input count of a CryptoNote ring signature
// (each KeyInput costs a full ring, unlike a UTXO model's near-free inputs)
// rather than minimizing the number of UTXOs left over.
func SelectInputs(available []*OwnedOutput, targetAmount uint64) (Selection, error) {
	spendable := make([]*OwnedOutput, 0, len(available))
	var totalAvailable uint64
	for _, out := range available {
		if out.State != StateUnlocked || out.Term != 0 {
			continue
		}
		spendable = append(spendable, out)
		totalAvailable += out.Amount
	}
	if len(spendable) == 0 {
		return Selection{}, ErrNoSpendableOutputs
	}
	if totalAvailable < targetAmount {
		return Selection{}, ErrInsufficientFunds
	}

	sort.Slice(spendable, func(i, j int) bool {
		return spendable[i].Amount > spendable[j].Amount
	})

	var selected []*OwnedOutput
	var total uint64
	for _, out := range spendable {
		if len(selected) >= maxSelectedInputs {
			return Selection{}, ErrInputLimitExceeded
		}
		selected = append(selected, out)
		total += out.Amount
		if total >= targetAmount {
			return Selection{Inputs: selected, Total: total, Change: total - targetAmount}, nil
		}
	}

	return Selection{}, ErrInsufficientFunds
}

// SelectRingDecoys picks count outputs at random from a global output index
// to stand in as decoys alongside a real spent output in a ring signature.
// Excludes the real output's own index so it isn't duplicated in its ring.
func SelectRingDecoys(globalOutputCount uint64, realIndex uint64, count int) ([]uint64, error) {
	if globalOutputCount <= uint64(count) {
		return nil, errors.New("wallet: not enough outputs on chain for ring size")
	}
	seen := map[uint64]bool{realIndex: true}
	decoys := make([]uint64, 0, count)
	for len(decoys) < count {
		idx, ok := randUint64(globalOutputCount)
		if !ok {
			return nil, errors.New("wallet: decoy selection failed")
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		decoys = append(decoys, idx)
	}
	return decoys, nil
}

func randUint64(n uint64) (uint64, bool) {
	if n == 0 {
		return 0, false
	}
	v, err := rand.Int(rand.Reader, new(big.Int).SetUint64(n))
	if err != nil {
		return 0, false
	}
	return v.Uint64(), true
}

// RandomShuffle shuffles outputs in place using cryptographically secure
// randomness. Builder.Transfer does not call it: a built transaction always
// places its change output last.
func RandomShuffle(outputs []*OwnedOutput) {
	n := len(outputs)
	if n <= 1 {
		return
	}
	for i := n - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return
		}
		j := int(jBig.Int64())
		outputs[i], outputs[j] = outputs[j], outputs[i]
	}
}
