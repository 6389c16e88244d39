package wallet

import (
	"testing"

	"github.com/syfer-network/cnnode/core"
)

// fakeChain is a minimal in-memory ChainReader for driving a Synchronizer
// without a real core.Blockchain/core.Storage.
type fakeChain struct {
	entries []*core.BlockEntry
	txs     map[core.Hash]*core.Transaction
}

func newFakeChain() *fakeChain {
	return &fakeChain{txs: make(map[core.Hash]*core.Transaction)}
}

func (f *fakeChain) Height() uint32 { return uint32(len(f.entries)) }

func (f *fakeChain) GetBlockByHeight(height uint32) (*core.BlockEntry, bool) {
	if height == 0 || int(height) > len(f.entries) {
		return nil, false
	}
	return f.entries[height-1], true
}

func (f *fakeChain) GetTransaction(id core.Hash) (*core.Transaction, error) {
	tx, ok := f.txs[id]
	if !ok {
		return nil, errNotFound
	}
	return tx, nil
}

func (f *fakeChain) addBlock(base core.Transaction, height uint32) *core.BlockEntry {
	entry := &core.BlockEntry{Block: core.Block{BaseTransaction: base}, Height: height}
	f.entries = append(f.entries, entry)
	return entry
}

var errNotFound = &notFoundError{}

type notFoundError struct{}

func (*notFoundError) Error() string { return "wallet: transaction not found" }

func newTestAccount(t *testing.T) Account {
	t.Helper()
	crypto := core.NewDefaultCrypto()
	spend, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate spend keypair: %v", err)
	}
	view, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate view keypair: %v", err)
	}
	return Account{
		SpendPublic: spend.Public, SpendSecret: spend.Secret,
		ViewPublic: view.Public, ViewSecret: view.Secret,
	}
}

// coinbaseFor builds a single-output coinbase transaction paying account,
// the way a real miner transaction's output is derived (§4.6).
func coinbaseFor(t *testing.T, crypto core.CryptoProvider, account Account, amount uint64, blockIndex uint32) core.Transaction {
	t.Helper()
	txKeys, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate tx keypair: %v", err)
	}
	d, err := crypto.GenerateKeyDerivation(account.ViewPublic, txKeys.Secret)
	if err != nil {
		t.Fatalf("generate key derivation: %v", err)
	}
	oneTime, err := crypto.DerivePublicKey(d, 0, account.SpendPublic)
	if err != nil {
		t.Fatalf("derive public key: %v", err)
	}

	prefix := core.TransactionPrefix{
		Version: 1,
		Inputs:  []core.TransactionInput{{Base: &core.BaseInput{BlockIndex: blockIndex}}},
		Outputs: []core.TransactionOutput{{
			Amount: amount,
			Target: core.TransactionOutputTarget{Key: &core.KeyOutput{Key: oneTime}},
		}},
		Extra: core.AddTransactionPublicKeyToExtra(nil, txKeys.Public),
	}
	return core.Transaction{TransactionPrefix: prefix}
}

func TestSynchronizerMatchesOwnedOutput(t *testing.T) {
	crypto := core.NewDefaultCrypto()
	account := newTestAccount(t)
	chain := newFakeChain()
	events := core.NewObservers()

	tx := coinbaseFor(t, crypto, account, 5000, 1)
	chain.addBlock(tx, 1)

	s := NewSynchronizer(crypto, chain, events, account, core.MainnetParams())
	s.catchUp()

	outputs := s.Outputs()
	if len(outputs) != 1 {
		t.Fatalf("expected 1 owned output, got %d", len(outputs))
	}
	if outputs[0].Amount != 5000 {
		t.Fatalf("expected amount 5000, got %d", outputs[0].Amount)
	}
	if outputs[0].State != StateSoftLocked {
		t.Fatalf("expected a freshly scanned output to be soft-locked, got %s", outputs[0].State)
	}
	if s.SyncedHeight() != 1 {
		t.Fatalf("expected synced height 1, got %d", s.SyncedHeight())
	}
}

func TestSynchronizerUnlocksAfterWindow(t *testing.T) {
	crypto := core.NewDefaultCrypto()
	account := newTestAccount(t)
	chain := newFakeChain()
	events := core.NewObservers()

	tx := coinbaseFor(t, crypto, account, 1000, 1)
	chain.addBlock(tx, 1)
	for i := uint32(2); i <= coinbaseUnlockWindow+1; i++ {
		chain.addBlock(coinbaseFor(t, crypto, newTestAccount(t), 1, i), i)
	}

	s := NewSynchronizer(crypto, chain, events, account, core.MainnetParams())
	s.catchUp()

	outputs := s.Outputs()
	if len(outputs) != 1 {
		t.Fatalf("expected 1 owned output, got %d", len(outputs))
	}
	if outputs[0].State != StateUnlocked {
		t.Fatalf("expected output to be unlocked after %d confirmations, got %s", coinbaseUnlockWindow, outputs[0].State)
	}
}

func TestSynchronizerDetachOnReorg(t *testing.T) {
	crypto := core.NewDefaultCrypto()
	account := newTestAccount(t)
	chain := newFakeChain()
	events := core.NewObservers()

	chain.addBlock(coinbaseFor(t, crypto, account, 1000, 1), 1)

	s := NewSynchronizer(crypto, chain, events, account, core.MainnetParams())
	s.catchUp()
	if len(s.Outputs()) != 1 {
		t.Fatalf("expected 1 owned output before detach")
	}

	s.detach(1)
	if len(s.Outputs()) != 0 {
		t.Fatalf("expected 0 owned outputs after detaching height 1")
	}
	if s.SyncedHeight() != 0 {
		t.Fatalf("expected synced height reset to 0 after detach, got %d", s.SyncedHeight())
	}
}
