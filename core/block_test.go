package core

import "testing"

func sampleBlock() Block {
	return Block{
		BlockHeader: BlockHeader{
			MajorVersion: 4,
			MinorVersion: 0,
			Timestamp:    1700000000,
			PrevID:       Hash{1, 2, 3},
			Nonce:        0xDEADBEEF,
		},
		BaseTransaction: Transaction{
			TransactionPrefix: TransactionPrefix{
				Version: 1,
				Inputs:  []TransactionInput{{Base: &BaseInput{BlockIndex: 50}}},
				Outputs: []TransactionOutput{{Amount: 1000, Target: TransactionOutputTarget{Key: &KeyOutput{Key: PublicKey{9}}}}},
			},
		},
		TransactionHashes: []Hash{{4, 4, 4}, {5, 5, 5}, {6, 6, 6}},
	}
}

func TestBlockSerializeDeserializeRoundTrip(t *testing.T) {
	b := sampleBlock()
	encoded, err := b.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	decoded, err := DeserializeBlock(encoded)
	if err != nil {
		t.Fatalf("DeserializeBlock: %v", err)
	}
	if decoded.BlockHeader != b.BlockHeader {
		t.Fatalf("header mismatch: got %+v want %+v", decoded.BlockHeader, b.BlockHeader)
	}
	if len(decoded.TransactionHashes) != len(b.TransactionHashes) {
		t.Fatalf("expected %d transaction hashes, got %d", len(b.TransactionHashes), len(decoded.TransactionHashes))
	}
	for i, h := range b.TransactionHashes {
		if decoded.TransactionHashes[i] != h {
			t.Fatalf("transaction hash %d mismatch: got %v want %v", i, decoded.TransactionHashes[i], h)
		}
	}
	if !decoded.BaseTransaction.IsCoinbase() {
		t.Fatal("expected the round-tripped base transaction to still report IsCoinbase")
	}
}

func TestDeserializeBlockRejectsTrailingBytes(t *testing.T) {
	b := sampleBlock()
	encoded, err := b.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	encoded = append(encoded, 0x01)
	if _, err := DeserializeBlock(encoded); err == nil {
		t.Fatal("expected trailing garbage after a valid block to be rejected")
	}
}

func TestMerkleRootSingleLeafIsItself(t *testing.T) {
	crypto := NewDefaultCrypto()
	leaf := Hash{7, 7, 7}
	if got := merkleRoot(crypto, []Hash{leaf}); got != leaf {
		t.Fatalf("expected a single leaf to be its own root, got %v", got)
	}
}

func TestMerkleRootEmptyHashesEmptyString(t *testing.T) {
	crypto := NewDefaultCrypto()
	if got := merkleRoot(crypto, nil); got != crypto.FastHash(nil) {
		t.Fatalf("expected merkleRoot(nil) to equal FastHash(nil), got %v", got)
	}
}

func TestMerkleRootOddLeafCountCarriesLastForward(t *testing.T) {
	crypto := NewDefaultCrypto()
	leaves := []Hash{{1}, {2}, {3}}
	// Two leaves merge into one pair hash, the third carries forward
	// unchanged, then the two results merge again.
	pair := hashPair(crypto, leaves[0], leaves[1])
	want := hashPair(crypto, pair, leaves[2])
	if got := merkleRoot(crypto, leaves); got != want {
		t.Fatalf("merkleRoot mismatch for an odd leaf count: got %v want %v", got, want)
	}
}

func TestBlockIDIsDeterministicAndSensitiveToNonce(t *testing.T) {
	crypto := NewDefaultCrypto()
	b := sampleBlock()

	id1, err := b.ID(crypto)
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	id2, err := b.ID(crypto)
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	if id1 != id2 {
		t.Fatal("expected ID to be deterministic for the same block contents")
	}

	b.Nonce++
	id3, err := b.ID(crypto)
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	if id3 == id1 {
		t.Fatal("expected changing the nonce to change the block id")
	}
}

func TestBlockLongHashMatchesHashingBlob(t *testing.T) {
	crypto := NewDefaultCrypto()
	b := sampleBlock()

	blob, err := b.LongHash(crypto)
	if err != nil {
		t.Fatalf("LongHash: %v", err)
	}
	id, err := b.ID(crypto)
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	if got := crypto.FastHash(blob); got != id {
		t.Fatalf("expected FastHash(LongHash(b)) to equal ID(b): got %v want %v", got, id)
	}
}
