package wallet

import (
	"errors"
	"fmt"
	"sort"

	"github.com/syfer-network/cnnode/core"
)

// Destination is one payment a built transaction sends to: an address plus
// an amount and an optional plaintext message (§4.7's transfers[].message).
// Transfer copies the message into the returned TransferRecord only; it is
// not written into the transaction's Extra.
type Destination struct {
	Address string
	Amount  uint64
	Message []byte
}

// BuildResult is everything a caller needs after building a transaction:
// the transaction itself, its id, the per-transaction secret key, and enough
// bookkeeping to update the wallet cache. The secret key is drawn at random by
// GenerateKeyPair; it is not derived from the inputs or the account's keys,
// so it cannot be recomputed later.
type BuildResult struct {
	Tx           core.Transaction
	TxID         core.Hash
	TxSecretKey  core.SecretKey
	SpentOutputs []*OwnedOutput
	UsedOutpoints []outpoint
	Fee          uint64
	Change       uint64
	Transfers    []TransferRecord
}

// RingProvider supplies decoy ring members for a KeyInput: the public keys
// and global indexes of other outputs carrying the same amount, so the real
// spend can't be singled out of the ring.
type RingProvider interface {
	// RingMembers returns up to count decoy (globalIndex, key) pairs for
	// outputs of the given amount, excluding excludeGlobalIndex; buildRing
	// asks for ringSize-1 of them.
	RingMembers(amount uint64, excludeGlobalIndex uint64, count int) (indexes []uint64, keys []core.PublicKey, err error)
}

// Builder constructs signed transactions spending a Cache's unlocked
// outputs, grounded on the teacher's Builder.Transfer (same stealth-output
// derivation shape; the fee is always the fixed minimum fee, with no
// fee-iteration loop), generalized from RingCT
// Pedersen commitments to CryptoNote's plain-amount KeyInput/KeyOutput
// model and its ring-signature spend proof.
type Builder struct {
	crypto  core.CryptoProvider
	account Account
	rings   RingProvider
	fee     uint64 // MinimumFee, from core.Params
}

func NewBuilder(crypto core.CryptoProvider, account Account, rings RingProvider, minimumFee uint64) *Builder {
	return &Builder{crypto: crypto, account: account, rings: rings, fee: minimumFee}
}

const ringSize = 5

// Transfer builds a transaction paying destinations out of available,
// selecting inputs with largest-first-with-change (coinselect.go),
// deriving a fresh one-time output key per destination plus a change
// output back to the sender, and ring-signing every KeyInput.
func (b *Builder) Transfer(destinations []Destination, available []*OwnedOutput, unlockTime uint64) (*BuildResult, error) {
	if len(destinations) == 0 {
		return nil, errors.New("wallet: no destinations")
	}
	if b.account.ViewOnly {
		return nil, errors.New("wallet: view-only account cannot build transactions")
	}

	var totalSend uint64
	for _, d := range destinations {
		totalSend += d.Amount
	}

	sel, err := SelectInputs(available, totalSend+b.fee)
	if err != nil {
		return nil, fmt.Errorf("wallet: select inputs: %w", err)
	}

	txKeyPair, err := b.crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("wallet: generate tx keypair: %w", err)
	}
	txSecretKey, txPublicKey := txKeyPair.Secret, txKeyPair.Public

	outputs := make([]core.TransactionOutput, 0, len(destinations)+1)
	transfers := make([]TransferRecord, 0, len(destinations))
	for i, d := range destinations {
		destAddr, err := ParseAddress(d.Address)
		if err != nil {
			return nil, fmt.Errorf("wallet: destination %d: %w", i, err)
		}
		oneTime, err := b.deriveOutputKey(txSecretKey, destAddr.ViewPublicKey, destAddr.SpendPublicKey, uint32(i))
		if err != nil {
			return nil, fmt.Errorf("wallet: derive output key for destination %d: %w", i, err)
		}
		outputs = append(outputs, core.TransactionOutput{
			Amount: d.Amount,
			Target: core.TransactionOutputTarget{Key: &core.KeyOutput{Key: oneTime}},
		})
		transfers = append(transfers, TransferRecord{Address: d.Address, Amount: d.Amount, Message: d.Message})
	}

	if sel.Change > 0 {
		oneTime, err := b.deriveOutputKey(txSecretKey, b.account.ViewPublic, b.account.SpendPublic, uint32(len(outputs)))
		if err != nil {
			return nil, fmt.Errorf("wallet: derive change output key: %w", err)
		}
		outputs = append(outputs, core.TransactionOutput{
			Amount: sel.Change,
			Target: core.TransactionOutputTarget{Key: &core.KeyOutput{Key: oneTime}},
		})
	}

	extra := core.AddTransactionPublicKeyToExtra(nil, txPublicKey)

	prefix := core.TransactionPrefix{
		Version:    2,
		UnlockTime: unlockTime,
		Outputs:    outputs,
		Extra:      extra,
	}

	inputs := make([]core.TransactionInput, len(sel.Inputs))
	for i, out := range sel.Inputs {
		ring, err := b.buildRing(out)
		if err != nil {
			return nil, fmt.Errorf("wallet: build ring for input %d: %w", i, err)
		}
		inputs[i] = core.TransactionInput{Key: &core.KeyInput{
			Amount:        out.Amount,
			OutputIndexes: ring.indexes,
			KeyImage:      out.KeyImage,
		}}
	}
	prefix.Inputs = inputs

	tx := core.Transaction{TransactionPrefix: prefix}
	prefixHash, err := tx.TransactionPrefix.Hash(b.crypto)
	if err != nil {
		return nil, fmt.Errorf("wallet: hash tx prefix: %w", err)
	}

	tx.Signatures = make([][]core.Signature, len(sel.Inputs))
	for i, out := range sel.Inputs {
		ring, err := b.buildRing(out)
		if err != nil {
			return nil, fmt.Errorf("wallet: rebuild ring for input %d: %w", i, err)
		}
		sigs, err := b.crypto.GenerateRingSignature(prefixHash, out.KeyImage, ring.keys, out.OneTimeSecret, ring.secretIndex)
		if err != nil {
			return nil, fmt.Errorf("wallet: sign input %d: %w", i, err)
		}
		tx.Signatures[i] = sigs
	}

	txID, err := tx.TransactionPrefix.Hash(b.crypto)
	if err != nil {
		return nil, fmt.Errorf("wallet: hash transaction: %w", err)
	}

	usedOutpoints := make([]outpoint, len(sel.Inputs))
	for i, out := range sel.Inputs {
		usedOutpoints[i] = outpoint{TxID: out.TxID, Index: out.OutputIndex}
	}

	return &BuildResult{
		Tx: tx, TxID: txID, TxSecretKey: txSecretKey,
		SpentOutputs: sel.Inputs, UsedOutpoints: usedOutpoints,
		Fee: b.fee, Change: sel.Change, Transfers: transfers,
	}, nil
}

// deriveOutputKey computes P = Hs(r*V)*G + S for a destination's one-time
// output key, reusing GenerateKeyDerivation/DerivePublicKey with the sender
// holding r in place of the usual recipient-side a.
func (b *Builder) deriveOutputKey(txSecret core.SecretKey, viewPub, spendPub core.PublicKey, index uint32) (core.PublicKey, error) {
	d, err := b.crypto.GenerateKeyDerivation(viewPub, txSecret)
	if err != nil {
		return core.PublicKey{}, err
	}
	return b.crypto.DerivePublicKey(d, index, spendPub)
}

type ring struct {
	indexes     []uint64
	keys        []core.PublicKey
	secretIndex int
}

// buildRing assembles the ring signature membership for one KeyInput: the
// real output plus the decoys of equal amount the RingProvider returns,
// sorted by global index, so the real output's position follows from its
// index rather than from where it was added.
func (b *Builder) buildRing(out *OwnedOutput) (ring, error) {
	if b.rings == nil {
		return ring{indexes: []uint64{out.GlobalIndex}, keys: []core.PublicKey{out.OneTimePublic}, secretIndex: 0}, nil
	}

	decoyIndexes, decoyKeys, err := b.rings.RingMembers(out.Amount, out.GlobalIndex, ringSize-1)
	if err != nil {
		return ring{}, err
	}

	type member struct {
		index uint64
		key   core.PublicKey
	}
	members := make([]member, 0, len(decoyIndexes)+1)
	members = append(members, member{out.GlobalIndex, out.OneTimePublic})
	for i := range decoyIndexes {
		members = append(members, member{decoyIndexes[i], decoyKeys[i]})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].index < members[j].index })

	r := ring{indexes: make([]uint64, len(members)), keys: make([]core.PublicKey, len(members))}
	for i, m := range members {
		r.indexes[i] = m.index
		r.keys[i] = m.key
		if m.index == out.GlobalIndex {
			r.secretIndex = i
		}
	}
	return r, nil
}
