package core

import (
	"bytes"
	"testing"
)

func TestTransactionPrefixSerializeDeserializeRoundTrip(t *testing.T) {
	var img KeyImage
	img[0] = 0xAB
	var key PublicKey
	key[0] = 0xCD

	prefix := TransactionPrefix{
		Version:    2,
		UnlockTime: 12345,
		Inputs: []TransactionInput{
			{Key: &KeyInput{Amount: 500, OutputIndexes: []uint64{3, 7, 100}, KeyImage: img}},
		},
		Outputs: []TransactionOutput{
			{Amount: 250, Target: TransactionOutputTarget{Key: &KeyOutput{Key: key}}},
		},
		Extra: []byte{0xde, 0xad, 0xbe, 0xef},
	}

	encoded, err := prefix.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	decoded, err := DeserializeTransactionPrefix(encoded)
	if err != nil {
		t.Fatalf("DeserializeTransactionPrefix: %v", err)
	}

	if decoded.Version != prefix.Version || decoded.UnlockTime != prefix.UnlockTime {
		t.Fatalf("prefix scalar fields mismatch: got %+v", decoded)
	}
	if len(decoded.Inputs) != 1 || decoded.Inputs[0].Key == nil {
		t.Fatalf("expected 1 KeyInput, got %+v", decoded.Inputs)
	}
	gotIn := decoded.Inputs[0].Key
	if gotIn.Amount != 500 || gotIn.KeyImage != img {
		t.Fatalf("KeyInput amount/image mismatch: got %+v", gotIn)
	}
	if len(gotIn.OutputIndexes) != 3 || gotIn.OutputIndexes[0] != 3 || gotIn.OutputIndexes[1] != 7 || gotIn.OutputIndexes[2] != 100 {
		t.Fatalf("expected absolute output indexes [3 7 100] recovered from deltas, got %v", gotIn.OutputIndexes)
	}
	if len(decoded.Outputs) != 1 || decoded.Outputs[0].Amount != 250 || decoded.Outputs[0].Target.Key.Key != key {
		t.Fatalf("output mismatch: got %+v", decoded.Outputs)
	}
	if !bytes.Equal(decoded.Extra, prefix.Extra) {
		t.Fatalf("extra mismatch: got %x want %x", decoded.Extra, prefix.Extra)
	}
}

func TestTransactionFullSerializeDeserializeRoundTrip(t *testing.T) {
	crypto := NewDefaultCrypto()

	keys := make([]PublicKey, 3)
	var secret SecretKey
	for i := range keys {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair: %v", err)
		}
		keys[i] = kp.Public
		if i == 1 {
			secret = kp.Secret
		}
	}
	image, err := crypto.GenerateKeyImage(keys[1], secret)
	if err != nil {
		t.Fatalf("GenerateKeyImage: %v", err)
	}

	tx := Transaction{
		TransactionPrefix: TransactionPrefix{
			Version: 2,
			Inputs:  []TransactionInput{{Key: &KeyInput{Amount: 1000, OutputIndexes: []uint64{1, 2, 3}, KeyImage: image}}},
			Outputs: []TransactionOutput{{Amount: 990, Target: TransactionOutputTarget{Key: &KeyOutput{Key: keys[0]}}}},
		},
	}
	prefixHash, err := tx.TransactionPrefix.Hash(crypto)
	if err != nil {
		t.Fatalf("hash prefix: %v", err)
	}
	sigs, err := crypto.GenerateRingSignature(prefixHash, image, keys, secret, 1)
	if err != nil {
		t.Fatalf("GenerateRingSignature: %v", err)
	}
	tx.Signatures = [][]Signature{sigs}

	encoded, err := tx.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	decoded, err := DeserializeTransaction(encoded)
	if err != nil {
		t.Fatalf("DeserializeTransaction: %v", err)
	}

	if len(decoded.Signatures) != 1 || len(decoded.Signatures[0]) != len(keys) {
		t.Fatalf("expected 1 signature set of length %d, got %+v", len(keys), decoded.Signatures)
	}
	for i := range sigs {
		if decoded.Signatures[0][i] != sigs[i] {
			t.Fatalf("signature %d mismatch after round trip", i)
		}
	}
	if !crypto.CheckRingSignature(prefixHash, image, keys, decoded.Signatures[0]) {
		t.Fatal("expected the round-tripped signature set to still verify")
	}
}

func TestTransactionBaseInputRoundTripSkipsSignatures(t *testing.T) {
	tx := Transaction{
		TransactionPrefix: TransactionPrefix{
			Version: 1,
			Inputs:  []TransactionInput{{Base: &BaseInput{BlockIndex: 42}}},
			Outputs: []TransactionOutput{{Amount: 5000, Target: TransactionOutputTarget{Key: &KeyOutput{}}}},
		},
	}
	encoded, err := tx.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	decoded, err := DeserializeTransaction(encoded)
	if err != nil {
		t.Fatalf("DeserializeTransaction: %v", err)
	}
	if !decoded.IsCoinbase() {
		t.Fatal("expected the decoded transaction to report IsCoinbase")
	}
	if len(decoded.Signatures) != 1 || decoded.Signatures[0] != nil {
		t.Fatalf("expected a nil signature set for the base input, got %+v", decoded.Signatures)
	}
}

func TestDeserializeTransactionRejectsTrailingGarbage(t *testing.T) {
	tx := Transaction{TransactionPrefix: TransactionPrefix{Version: 1, Outputs: []TransactionOutput{{Amount: 1}}}}
	tx.Outputs[0].Target.Key = &KeyOutput{}
	encoded, err := tx.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	encoded = append(encoded, 0xFF, 0xFF, 0xFF)
	if _, err := DeserializeTransaction(encoded); err == nil {
		t.Fatal("expected trailing garbage after a valid transaction to be rejected")
	}
}

func TestExtraTLVRoundTrip(t *testing.T) {
	crypto := NewDefaultCrypto()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	paymentID := make([]byte, PaymentIDSizeConst)
	for i := range paymentID {
		paymentID[i] = byte(i)
	}

	extra := AddTransactionPublicKeyToExtra(nil, kp.Public)
	extra = AddPaymentIDToExtra(extra, paymentID)

	fields, err := ParseExtra(extra)
	if err != nil {
		t.Fatalf("ParseExtra: %v", err)
	}
	if fields.PublicKey == nil || *fields.PublicKey != kp.Public {
		t.Fatalf("expected the tx public key to round trip, got %+v", fields.PublicKey)
	}
	if !bytes.Equal(fields.PaymentID, paymentID) {
		t.Fatalf("expected the payment id to round trip, got %x want %x", fields.PaymentID, paymentID)
	}
}

func TestParseExtraRejectsBadPaymentIDLength(t *testing.T) {
	extra := AddPaymentIDToExtra(nil, []byte{1, 2, 3})
	if _, err := ParseExtra(extra); err != ErrBadPaymentID {
		t.Fatalf("expected ErrBadPaymentID for a short payment id, got %v", err)
	}
}
