package wallet

import (
	"context"
	"log"
	"sync"

	"github.com/syfer-network/cnnode/core"
)

// ChainReader is the read surface the synchronizer pulls blocks and
// transaction bodies from. Blockchain (core) satisfies it directly.
type ChainReader interface {
	Height() uint32
	GetBlockByHeight(height uint32) (*core.BlockEntry, bool)
	GetTransaction(id core.Hash) (*core.Transaction, error)
}

// UpdateListener receives the four lifecycle callbacks §4.6 step 5 names.
// Cache implements this to keep its transactions[]/transfers[]/
// deposits[] records current as the synchronizer scans.
type UpdateListener interface {
	OnTransactionUpdated(out *OwnedOutput)
	OnTransactionDeleted(out *OwnedOutput)
	OnTransfersLocked(dep *Deposit)
	OnTransfersUnlocked(dep *Deposit)
}

// unlockWindow is the soft-lock confirmation count before a non-coinbase,
// non-deposit output is considered spendable (§4.6 step 3, "age <
// unlock_window"). coinbaseUnlockWindow mirrors the chain's
// MinedMoneyUnlockWindow consensus parameter; it is duplicated here rather
// than threaded in from core.Params because the synchronizer only needs the
// one number, not the whole currency-rule surface.
const (
	unlockWindow         = 10
	coinbaseUnlockWindow = 10
)

// Synchronizer scans new blocks for outputs and spends belonging to one
// account, grounded on the teacher's Scanner (same owned-output/key-image
// double loop over ScanBlock), generalized from a Pedersen-commitment
// stealth-address scheme to CryptoNote's key-derivation/key-image scheme
// and extended with the deposit lifecycle §4.6 adds on top of it.
type Synchronizer struct {
	crypto  core.CryptoProvider
	chain   ChainReader
	events  *core.Observers
	account Account
	params  core.Params

	mu           sync.RWMutex
	outputs      map[outpoint]*OwnedOutput
	keyImages    map[core.KeyImage]*OwnedOutput
	syncedHeight uint32
	listener     UpdateListener
}

type outpoint struct {
	TxID  core.Hash
	Index uint32
}

func NewSynchronizer(crypto core.CryptoProvider, chain ChainReader, events *core.Observers, account Account, params core.Params) *Synchronizer {
	return &Synchronizer{
		crypto:    crypto,
		chain:     chain,
		events:    events,
		account:   account,
		params:    params,
		outputs:   make(map[outpoint]*OwnedOutput),
		keyImages: make(map[core.KeyImage]*OwnedOutput),
	}
}

func (s *Synchronizer) SetListener(l UpdateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

func (s *Synchronizer) SyncedHeight() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncedHeight
}

// Run drives the synchronizer off the blockchain's BlockAdded/Reorg topics
// until ctx is cancelled, matching §4.6's pull-based differ pulling block
// headers and owned-output entries in batches as new blocks land.
func (s *Synchronizer) Run(ctx context.Context) {
	added := s.events.SubscribeBlockAdded(64)
	reorgs := s.events.SubscribeReorg(16)

	s.catchUp()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-reorgs:
			if !ok {
				return
			}
			s.detach(ev.DetachHeight)
			s.catchUp()
		case _, ok := <-added:
			if !ok {
				return
			}
			s.catchUp()
		}
	}
}

// catchUp pulls every block above syncedHeight in order, matching §4.6
// step 1's "batches" pull and step 2's ordered scan.
func (s *Synchronizer) catchUp() {
	for {
		s.mu.RLock()
		next := s.syncedHeight + 1
		s.mu.RUnlock()
		entry, ok := s.chain.GetBlockByHeight(next)
		if !ok {
			return
		}
		s.scanBlock(entry)
		s.mu.Lock()
		s.syncedHeight = next
		s.mu.Unlock()
	}
}

func (s *Synchronizer) scanBlock(entry *core.BlockEntry) {
	s.scanTransaction(entry.Block.BaseTransaction, entry.Height, true)
	for _, txID := range entry.Block.TransactionHashes {
		tx, err := s.chain.GetTransaction(txID)
		if err != nil || tx == nil {
			log.Printf("wallet: sync: missing transaction %s at height %d", txID, entry.Height)
			continue
		}
		s.scanTransaction(*tx, entry.Height, false)
	}
	s.checkDepositUnlocks(entry.Height)
}

// scanTransaction implements §4.6 step 2: derive D = 8*a*R, then for each
// output index i check derive_public_key(D, i, spend_public) == output.key.
func (s *Synchronizer) scanTransaction(tx core.Transaction, height uint32, coinbase bool) {
	fields, err := core.ParseExtra(tx.Extra)
	if err != nil || fields.PublicKey == nil {
		s.scanKeyImages(tx, height)
		return
	}

	d, err := s.crypto.GenerateKeyDerivation(*fields.PublicKey, s.account.ViewSecret)
	if err != nil {
		return
	}

	txID, err := tx.Hash(s.crypto)
	if err != nil {
		return
	}

	for i, out := range tx.Outputs {
		switch {
		case out.Target.Key != nil:
			s.matchKeyOutput(txID, uint32(i), out.Amount, out.Target.Key.Key, d, height, coinbase)
		case out.Target.Multisig != nil:
			s.matchMultisigOutput(txID, uint32(i), out.Amount, *out.Target.Multisig, d, height)
		}
	}

	s.scanKeyImages(tx, height)
}

func (s *Synchronizer) matchKeyOutput(txID core.Hash, index uint32, amount uint64, key core.PublicKey, d core.KeyDerivation, height uint32, coinbase bool) {
	derived, err := s.crypto.DerivePublicKey(d, index, s.account.SpendPublic)
	if err != nil || derived != key {
		return
	}

	out := &OwnedOutput{
		TxID: txID, OutputIndex: index, Amount: amount,
		OneTimePublic: key, BlockHeight: height, IsCoinbase: coinbase,
		State: StateSoftLocked,
	}
	if !s.account.ViewOnly {
		out.OneTimeSecret = s.crypto.DeriveSecretKey(d, index, s.account.SpendSecret)
		if img, err := s.crypto.GenerateKeyImage(key, out.OneTimeSecret); err == nil {
			out.KeyImage = img
		}
	}
	s.recordOutput(out)
}

// matchMultisigOutput implements deposit discovery: if our spend key
// appears among a multisig output's keys and its term is nonzero, it's a
// deposit owned (co-owned, for required_signatures > 1) by this account.
func (s *Synchronizer) matchMultisigOutput(txID core.Hash, index uint32, amount uint64, out core.MultisignatureOutput, d core.KeyDerivation, height uint32) {
	owned := false
	for _, k := range out.Keys {
		if k == s.account.SpendPublic {
			owned = true
			break
		}
		if derived, err := s.crypto.DerivePublicKey(d, index, s.account.SpendPublic); err == nil && derived == k {
			owned = true
			break
		}
	}
	if !owned {
		return
	}

	owner := &OwnedOutput{
		TxID: txID, OutputIndex: index, Amount: amount,
		BlockHeight: height, Term: out.Term, State: StateLocked,
	}
	if out.Term > 0 {
		dep := &Deposit{
			Amount: amount, Term: out.Term, CreatingTxID: txID,
			CreatingHeight: height, UnlockHeight: height + out.Term,
			Interest: s.params.Interest(amount, out.Term, height),
		}
		owner.Deposit = dep
		s.notifyLocked(dep)
	} else {
		owner.State = StateSoftLocked
	}
	s.recordOutput(owner)
}

func (s *Synchronizer) recordOutput(out *OwnedOutput) {
	op := outpoint{TxID: out.TxID, Index: out.OutputIndex}
	s.mu.Lock()
	if _, exists := s.outputs[op]; exists {
		s.mu.Unlock()
		return
	}
	s.outputs[op] = out
	if out.KeyImage != (core.KeyImage{}) {
		s.keyImages[out.KeyImage] = out
	}
	s.mu.Unlock()
	s.notifyUpdated(out)
}

// scanKeyImages implements the spend-detection half of §4.6 step 3: a
// KeyInput whose key image matches one of our outputs marks that output
// spent. MultisignatureInputs are not examined, and deposit outputs carry no
// key image, so a spent deposit is not detected and its Deposit record stays
// open.
func (s *Synchronizer) scanKeyImages(tx core.Transaction, height uint32) {
	txID, err := tx.Hash(s.crypto)
	if err != nil {
		return
	}
	for _, in := range tx.Inputs {
		if in.Key != nil {
			s.markSpentByImage(in.Key.KeyImage, txID, height)
		}
	}
}

func (s *Synchronizer) markSpentByImage(image core.KeyImage, spendingTxID core.Hash, height uint32) {
	s.mu.Lock()
	out, ok := s.keyImages[image]
	if !ok || out.State == StateSpent {
		s.mu.Unlock()
		return
	}
	out.State = StateSpent
	out.SpentHeight = height
	out.SpentTxID = spendingTxID
	if out.Deposit != nil {
		out.Deposit.State = DepositSpent
		out.Deposit.SpendingTxID = spendingTxID
	}
	s.mu.Unlock()
	s.notifyUpdated(out)
}

// checkDepositUnlocks promotes deposits (and soft-locked transfers) that
// have crossed their unlock height since the last block, per §4.6's
// "On block at unlock_height, emit TransfersUnlocked".
func (s *Synchronizer) checkDepositUnlocks(height uint32) {
	var justUnlockedDeposits []*Deposit
	var justUnlocked []*OwnedOutput

	s.mu.Lock()
	for _, out := range s.outputs {
		if out.State == StateSpent {
			continue
		}
		if out.Deposit != nil {
			if out.Deposit.State == DepositLocked && height >= out.Deposit.UnlockHeight {
				out.Deposit.State = DepositUnlocked
				out.State = StateUnlocked
				justUnlockedDeposits = append(justUnlockedDeposits, out.Deposit)
				justUnlocked = append(justUnlocked, out)
			}
			continue
		}
		if out.State == StateSoftLocked {
			confirmations := uint32(0)
			if height >= out.BlockHeight {
				confirmations = height - out.BlockHeight
			}
			window := uint32(unlockWindow)
			if out.IsCoinbase {
				window = coinbaseUnlockWindow
			}
			if confirmations >= window {
				out.State = StateUnlocked
				justUnlocked = append(justUnlocked, out)
			}
		}
	}
	s.mu.Unlock()

	for _, dep := range justUnlockedDeposits {
		s.notifyUnlocked(dep)
	}
	for _, out := range justUnlocked {
		s.notifyUpdated(out)
	}
}

// detach implements §4.6 step 4: on reorg, every output created at or above
// detachHeight is removed and reported through OnTransactionDeleted (it is
// not kept in the unconfirmed state), so a later replay re-adds it; spends
// recorded at or above detachHeight are undone.
func (s *Synchronizer) detach(detachHeight uint32) {
	var removed []*OwnedOutput

	s.mu.Lock()
	for op, out := range s.outputs {
		if out.BlockHeight < detachHeight {
			continue
		}
		delete(s.outputs, op)
		if out.KeyImage != (core.KeyImage{}) {
			delete(s.keyImages, out.KeyImage)
		}
		removed = append(removed, out)
	}
	if s.syncedHeight >= detachHeight {
		s.syncedHeight = detachHeight - 1
	}
	// Un-spend outputs whose spend happened at/above the detach point but
	// that themselves survive (were created below it).
	for _, out := range s.outputs {
		if out.State == StateSpent && out.SpentHeight >= detachHeight {
			out.State = StateUnlocked
			out.SpentHeight = 0
			out.SpentTxID = core.Hash{}
			if out.Deposit != nil && out.Deposit.State == DepositSpent {
				out.Deposit.State = DepositUnlocked
			}
		}
	}
	s.mu.Unlock()

	for _, out := range removed {
		s.notifyDeleted(out)
	}
}

// Outputs returns a snapshot of every output currently tracked, regardless
// of state.
func (s *Synchronizer) Outputs() []*OwnedOutput {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*OwnedOutput, 0, len(s.outputs))
	for _, o := range s.outputs {
		c := *o
		out = append(out, &c)
	}
	return out
}

func (s *Synchronizer) notifyUpdated(out *OwnedOutput) {
	s.mu.RLock()
	l := s.listener
	s.mu.RUnlock()
	if l != nil {
		c := *out
		l.OnTransactionUpdated(&c)
	}
	s.events.PublishTransfersUpdated(core.TransfersUpdatedEvent{ViewPublicKey: s.account.ViewPublic})
}

func (s *Synchronizer) notifyDeleted(out *OwnedOutput) {
	s.mu.RLock()
	l := s.listener
	s.mu.RUnlock()
	if l != nil {
		c := *out
		l.OnTransactionDeleted(&c)
	}
	s.events.PublishTransfersUpdated(core.TransfersUpdatedEvent{ViewPublicKey: s.account.ViewPublic})
}

func (s *Synchronizer) notifyLocked(dep *Deposit) {
	s.mu.RLock()
	l := s.listener
	s.mu.RUnlock()
	if l != nil {
		d := *dep
		l.OnTransfersLocked(&d)
	}
}

func (s *Synchronizer) notifyUnlocked(dep *Deposit) {
	s.mu.RLock()
	l := s.listener
	s.mu.RUnlock()
	if l != nil {
		d := *dep
		l.OnTransfersUnlocked(&d)
	}
}
