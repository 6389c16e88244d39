package wallet

import (
	"testing"

	"github.com/syfer-network/cnnode/core"
)

// ownedOutputFor builds an OwnedOutput the way the scanner would have
// recorded it: a one-time key derived for account at globalIndex, with its
// secret and key image filled in so a Builder can spend it.
func ownedOutputFor(t *testing.T, crypto core.CryptoProvider, account Account, amount uint64, globalIndex uint64) *OwnedOutput {
	t.Helper()
	txKeys, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate tx keypair: %v", err)
	}
	d, err := crypto.GenerateKeyDerivation(account.ViewPublic, txKeys.Secret)
	if err != nil {
		t.Fatalf("generate key derivation: %v", err)
	}
	oneTimePublic, err := crypto.DerivePublicKey(d, 0, account.SpendPublic)
	if err != nil {
		t.Fatalf("derive public key: %v", err)
	}
	oneTimeSecret := crypto.DeriveSecretKey(d, 0, account.SpendSecret)
	image, err := crypto.GenerateKeyImage(oneTimePublic, oneTimeSecret)
	if err != nil {
		t.Fatalf("generate key image: %v", err)
	}
	return &OwnedOutput{
		Amount:        amount,
		GlobalIndex:   globalIndex,
		OneTimePublic: oneTimePublic,
		OneTimeSecret: oneTimeSecret,
		KeyImage:      image,
		State:         StateUnlocked,
	}
}

func TestBuilderTransferSingleDestinationNoRingProvider(t *testing.T) {
	crypto := core.NewDefaultCrypto()
	sender := newTestAccount(t)
	recipient := newTestAccount(t)

	const fee = 10
	const sendAmount = 1000
	available := []*OwnedOutput{ownedOutputFor(t, crypto, sender, sendAmount+fee+250, 7)}

	b := NewBuilder(crypto, sender, nil, fee)
	result, err := b.Transfer([]Destination{{Address: recipient.Address(), Amount: sendAmount}}, available, 0)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	if result.Change != 250 {
		t.Fatalf("expected change 250, got %d", result.Change)
	}
	if len(result.Tx.Outputs) != 2 {
		t.Fatalf("expected 2 outputs (destination + change), got %d", len(result.Tx.Outputs))
	}
	if len(result.Tx.Inputs) != 1 || len(result.Tx.Signatures) != 1 {
		t.Fatalf("expected 1 signed input, got %d inputs / %d signature sets", len(result.Tx.Inputs), len(result.Tx.Signatures))
	}

	keyInput := result.Tx.Inputs[0].Key
	if keyInput == nil {
		t.Fatal("expected a KeyInput")
	}
	if len(keyInput.OutputIndexes) != 1 || keyInput.OutputIndexes[0] != 7 {
		t.Fatalf("expected a size-1 ring at the real global index when no RingProvider is configured, got %v", keyInput.OutputIndexes)
	}

	prefixHash, err := result.Tx.TransactionPrefix.Hash(crypto)
	if err != nil {
		t.Fatalf("hash prefix: %v", err)
	}
	if !crypto.CheckRingSignature(prefixHash, keyInput.KeyImage, []core.PublicKey{available[0].OneTimePublic}, result.Tx.Signatures[0]) {
		t.Fatal("expected the built ring signature to verify")
	}
}

func TestBuilderTransferRejectsViewOnlyAccount(t *testing.T) {
	crypto := core.NewDefaultCrypto()
	sender := newTestAccount(t)
	sender.ViewOnly = true

	b := NewBuilder(crypto, sender, nil, 10)
	_, err := b.Transfer([]Destination{{Address: sender.Address(), Amount: 100}}, nil, 0)
	if err == nil {
		t.Fatal("expected an error building from a view-only account")
	}
}

func TestBuilderTransferInsufficientFunds(t *testing.T) {
	crypto := core.NewDefaultCrypto()
	sender := newTestAccount(t)
	recipient := newTestAccount(t)
	available := []*OwnedOutput{ownedOutputFor(t, crypto, sender, 5, 1)}

	b := NewBuilder(crypto, sender, nil, 10)
	_, err := b.Transfer([]Destination{{Address: recipient.Address(), Amount: 1000}}, available, 0)
	if err == nil {
		t.Fatal("expected an error when available outputs can't cover amount+fee")
	}
}

// fakeRingProvider hands out a fixed, caller-supplied set of decoys regardless
// of the requested amount, enough to exercise Builder.buildRing's
// multi-member path.
type fakeRingProvider struct {
	indexes []uint64
	keys    []core.PublicKey
}

func (f *fakeRingProvider) RingMembers(amount uint64, excludeGlobalIndex uint64, count int) ([]uint64, []core.PublicKey, error) {
	n := count
	if n > len(f.indexes) {
		n = len(f.indexes)
	}
	return f.indexes[:n], f.keys[:n], nil
}

func TestBuilderTransferWithRingProvider(t *testing.T) {
	crypto := core.NewDefaultCrypto()
	sender := newTestAccount(t)
	recipient := newTestAccount(t)

	const fee = 1
	available := []*OwnedOutput{ownedOutputFor(t, crypto, sender, 100+fee, 5)}

	decoyKeyPair1, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate decoy keypair: %v", err)
	}
	decoyKeyPair2, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate decoy keypair: %v", err)
	}
	rings := &fakeRingProvider{
		indexes: []uint64{2, 9},
		keys:    []core.PublicKey{decoyKeyPair1.Public, decoyKeyPair2.Public},
	}

	b := NewBuilder(crypto, sender, rings, fee)
	result, err := b.Transfer([]Destination{{Address: recipient.Address(), Amount: 100}}, available, 0)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	keyInput := result.Tx.Inputs[0].Key
	if len(keyInput.OutputIndexes) != 3 {
		t.Fatalf("expected a 3-member ring (1 real + 2 decoys), got %d", len(keyInput.OutputIndexes))
	}

	sorted := append([]uint64{}, keyInput.OutputIndexes...)
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1] >= sorted[i] {
			t.Fatalf("expected ring members sorted by global index ascending, got %v", keyInput.OutputIndexes)
		}
	}

	prefixHash, err := result.Tx.TransactionPrefix.Hash(crypto)
	if err != nil {
		t.Fatalf("hash prefix: %v", err)
	}
	ringKeys := make([]core.PublicKey, 3)
	for i, idx := range keyInput.OutputIndexes {
		switch idx {
		case 5:
			ringKeys[i] = available[0].OneTimePublic
		case 2:
			ringKeys[i] = decoyKeyPair1.Public
		case 9:
			ringKeys[i] = decoyKeyPair2.Public
		}
	}
	if !crypto.CheckRingSignature(prefixHash, keyInput.KeyImage, ringKeys, result.Tx.Signatures[0]) {
		t.Fatal("expected the built multi-member ring signature to verify")
	}
}
