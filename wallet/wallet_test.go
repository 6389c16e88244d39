package wallet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/syfer-network/cnnode/core"
)

func tempCachePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "wallet.cache")
}

func TestCacheSaveLoadRoundTrip(t *testing.T) {
	account := newTestAccount(t)
	path := tempCachePath(t)
	password := []byte("correct horse battery staple")

	c := NewCache(path, password, account, "mnemonic words go here")
	if err := c.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadCache(path, password)
	if err != nil {
		t.Fatalf("LoadCache: %v", err)
	}
	if loaded.Account() != account {
		t.Fatalf("expected loaded account to match original")
	}
	if loaded.Mnemonic() != "mnemonic words go here" {
		t.Fatalf("expected mnemonic to round-trip, got %q", loaded.Mnemonic())
	}
}

func TestCacheLoadRejectsWrongPassword(t *testing.T) {
	account := newTestAccount(t)
	path := tempCachePath(t)

	c := NewCache(path, []byte("right password"), account, "")
	if err := c.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := LoadCache(path, []byte("wrong password")); err == nil {
		t.Fatal("expected LoadCache to reject the wrong password")
	}
}

func TestCacheLoadOrCreateCreatesOnFirstRun(t *testing.T) {
	account := newTestAccount(t)
	path := tempCachePath(t)
	password := []byte("pw")

	if _, err := os.Stat(path); err == nil {
		t.Fatal("expected no pre-existing cache file")
	}

	c, err := LoadOrCreateCache(path, password, account, "")
	if err != nil {
		t.Fatalf("LoadOrCreateCache (create): %v", err)
	}
	if c.Account() != account {
		t.Fatal("expected the created cache's account to match")
	}

	again, err := LoadOrCreateCache(path, password, account, "")
	if err != nil {
		t.Fatalf("LoadOrCreateCache (load existing): %v", err)
	}
	if again.Account() != account {
		t.Fatal("expected the re-loaded cache's account to match")
	}
}

func TestCacheHidesMnemonicForViewOnlyAccount(t *testing.T) {
	account := newTestAccount(t)
	account.ViewOnly = true
	c := NewCache(tempCachePath(t), []byte("pw"), account, "should never surface")
	if got := c.Mnemonic(); got != "" {
		t.Fatalf("expected Mnemonic() to be hidden for a view-only account, got %q", got)
	}
}

func TestCacheRecordSendThenConfirm(t *testing.T) {
	account := newTestAccount(t)
	c := NewCache(tempCachePath(t), []byte("pw"), account, "")

	var balances []BalanceChange
	c.SetOnBalanceChanged(func(bc BalanceChange) { balances = append(balances, bc) })

	txID := core.Hash{1, 2, 3}
	used := []outpoint{{TxID: core.Hash{9}, Index: 0}}
	c.RecordSend(txID, 1000, 10, nil, []TransferRecord{{Address: "addr", Amount: 1000}}, used, core.SecretKey{})

	reserved := c.ReservedOutpoints()
	if !reserved[used[0]] {
		t.Fatal("expected the spent input to be reserved while unconfirmed")
	}

	changeOutput := &OwnedOutput{TxID: txID, OutputIndex: 1, Amount: 250, BlockHeight: 42, State: StateUnlocked}
	c.OnTransactionUpdated(changeOutput)

	reserved = c.ReservedOutpoints()
	if reserved[used[0]] {
		t.Fatal("expected the reservation to clear once the transaction confirmed")
	}

	if len(balances) == 0 {
		t.Fatal("expected at least one balance-changed callback")
	}
	last := balances[len(balances)-1]
	if last.Available != 250 {
		t.Fatalf("expected available balance 250 after the change output confirmed, got %d", last.Available)
	}
}

func TestCacheSpendableOutputsExcludesDeposits(t *testing.T) {
	account := newTestAccount(t)
	c := NewCache(tempCachePath(t), []byte("pw"), account, "")

	c.OnTransactionUpdated(&OwnedOutput{TxID: core.Hash{1}, Amount: 100, State: StateUnlocked})
	c.OnTransactionUpdated(&OwnedOutput{TxID: core.Hash{2}, Amount: 200, State: StateUnlocked, Term: 5000})
	c.OnTransactionUpdated(&OwnedOutput{TxID: core.Hash{3}, Amount: 300, State: StateSoftLocked})

	spendable := c.SpendableOutputs()
	if len(spendable) != 1 || spendable[0].Amount != 100 {
		t.Fatalf("expected exactly the unlocked, zero-term output to be spendable, got %+v", spendable)
	}
}

func TestCacheOnTransactionDeletedRemovesOutput(t *testing.T) {
	account := newTestAccount(t)
	c := NewCache(tempCachePath(t), []byte("pw"), account, "")

	out := &OwnedOutput{TxID: core.Hash{7}, OutputIndex: 0, Amount: 500, State: StateSoftLocked}
	c.OnTransactionUpdated(out)
	if c.Balance().Pending != 500 {
		t.Fatalf("expected pending balance 500, got %d", c.Balance().Pending)
	}

	c.OnTransactionDeleted(out)
	if bc := c.Balance(); bc.Pending != 0 || bc.Available != 0 {
		t.Fatalf("expected balance to zero out after detach, got %+v", bc)
	}
}

func TestCacheDepositLifecycle(t *testing.T) {
	account := newTestAccount(t)
	c := NewCache(tempCachePath(t), []byte("pw"), account, "")

	dep := &Deposit{Amount: 1000, Term: 5000, Interest: 42, CreatingTxID: core.Hash{4}, State: DepositLocked}
	c.OnTransfersLocked(dep)
	if bc := c.Balance(); bc.LockedDeposit != 1000 || bc.LockedInvestment != 42 {
		t.Fatalf("expected locked deposit 1000 / interest 42, got %+v", bc)
	}

	unlocked := &Deposit{Amount: 1000, Term: 5000, Interest: 42, CreatingTxID: core.Hash{4}, State: DepositUnlocked}
	c.OnTransfersUnlocked(unlocked)
	bc := c.Balance()
	if bc.LockedDeposit != 0 || bc.UnlockedDeposit != 1000 || bc.UnlockedInvestment != 42 {
		t.Fatalf("expected deposit to move from locked to unlocked, got %+v", bc)
	}
}

func TestCacheTransactionsByPaymentID(t *testing.T) {
	account := newTestAccount(t)
	c := NewCache(tempCachePath(t), []byte("pw"), account, "")

	paymentID := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99,
		0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99}
	extra := core.AddPaymentIDToExtra(nil, paymentID)

	txID := core.Hash{5}
	c.RecordSend(txID, 100, 1, extra, nil, nil, core.SecretKey{})

	found := c.TransactionsByPaymentID(paymentID)
	if len(found) != 1 || found[0].TxID != txID {
		t.Fatalf("expected RecordSend's transaction to be indexed by payment id, got %+v", found)
	}
}
