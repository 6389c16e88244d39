package core

import "testing"

func TestGenerateKeyPairIsOnCurveAndDistinct(t *testing.T) {
	crypto := NewDefaultCrypto()

	a, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	b, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	if a.Public == b.Public || a.Secret == b.Secret {
		t.Fatal("expected two independently generated keypairs to differ")
	}
	if !crypto.CheckKey(a.Public) || !crypto.CheckKey(b.Public) {
		t.Fatal("expected generated public keys to pass CheckKey")
	}
}

func TestCheckKeyRejectsGarbage(t *testing.T) {
	crypto := NewDefaultCrypto()
	var garbage PublicKey
	for i := range garbage {
		garbage[i] = 0xFF
	}
	if crypto.CheckKey(garbage) {
		t.Fatal("expected an all-0xFF value to fail point decoding")
	}
}

// TestOutputDerivationRoundTrip mirrors §4.6 step 2: the recipient derives
// D = 8*a*R and recovers P = Hs(D,i)*G + B, matching the sender's
// independently-computed one-time output key.
func TestOutputDerivationRoundTrip(t *testing.T) {
	crypto := NewDefaultCrypto()

	spend, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate spend keypair: %v", err)
	}
	view, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate view keypair: %v", err)
	}
	txKeys, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate tx keypair: %v", err)
	}

	senderD, err := crypto.GenerateKeyDerivation(view.Public, txKeys.Secret)
	if err != nil {
		t.Fatalf("sender GenerateKeyDerivation: %v", err)
	}
	oneTimePublic, err := crypto.DerivePublicKey(senderD, 3, spend.Public)
	if err != nil {
		t.Fatalf("DerivePublicKey: %v", err)
	}

	recipientD, err := crypto.GenerateKeyDerivation(txKeys.Public, view.Secret)
	if err != nil {
		t.Fatalf("recipient GenerateKeyDerivation: %v", err)
	}
	if recipientD != senderD {
		t.Fatal("expected 8*a*R and 8*r*A to agree")
	}

	recovered, err := crypto.DerivePublicKey(recipientD, 3, spend.Public)
	if err != nil {
		t.Fatalf("DerivePublicKey (recipient): %v", err)
	}
	if recovered != oneTimePublic {
		t.Fatal("expected the recipient to recover the same one-time output key")
	}

	oneTimeSecret := crypto.DeriveSecretKey(recipientD, 3, spend.Secret)
	image, err := crypto.GenerateKeyImage(oneTimePublic, oneTimeSecret)
	if err != nil {
		t.Fatalf("GenerateKeyImage: %v", err)
	}
	if image == (KeyImage{}) {
		t.Fatal("expected a nonzero key image")
	}

	// The derived one-time secret must actually be the private half of the
	// derived one-time public key.
	pub2, err := crypto.DerivePublicKey(recipientD, 3, spend.Public)
	if err != nil {
		t.Fatalf("DerivePublicKey: %v", err)
	}
	if _, err := crypto.GenerateKeyImage(pub2, oneTimeSecret); err != nil {
		t.Fatalf("GenerateKeyImage with recomputed public key: %v", err)
	}
}

func TestGenerateKeyImageIsDeterministic(t *testing.T) {
	crypto := NewDefaultCrypto()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	i1, err := crypto.GenerateKeyImage(kp.Public, kp.Secret)
	if err != nil {
		t.Fatalf("GenerateKeyImage: %v", err)
	}
	i2, err := crypto.GenerateKeyImage(kp.Public, kp.Secret)
	if err != nil {
		t.Fatalf("GenerateKeyImage: %v", err)
	}
	if i1 != i2 {
		t.Fatal("expected GenerateKeyImage to be deterministic for the same input")
	}
}

func TestRingSignatureSignAndVerify(t *testing.T) {
	crypto := NewDefaultCrypto()
	const ringSize = 5
	const secretIndex = 2

	pubs := make([]PublicKey, ringSize)
	var secret SecretKey
	for i := 0; i < ringSize; i++ {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair(%d): %v", i, err)
		}
		pubs[i] = kp.Public
		if i == secretIndex {
			secret = kp.Secret
		}
	}

	image, err := crypto.GenerateKeyImage(pubs[secretIndex], secret)
	if err != nil {
		t.Fatalf("GenerateKeyImage: %v", err)
	}

	prefixHash := crypto.FastHash([]byte("ring signature test prefix"))
	sigs, err := crypto.GenerateRingSignature(prefixHash, image, pubs, secret, secretIndex)
	if err != nil {
		t.Fatalf("GenerateRingSignature: %v", err)
	}
	if len(sigs) != ringSize {
		t.Fatalf("expected %d signatures, got %d", ringSize, len(sigs))
	}
	if !crypto.CheckRingSignature(prefixHash, image, pubs, sigs) {
		t.Fatal("expected a freshly generated ring signature to verify")
	}
}

func TestRingSignatureRejectsTamperedPrefix(t *testing.T) {
	crypto := NewDefaultCrypto()
	const ringSize = 3
	const secretIndex = 0

	pubs := make([]PublicKey, ringSize)
	var secret SecretKey
	for i := 0; i < ringSize; i++ {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair(%d): %v", i, err)
		}
		pubs[i] = kp.Public
		if i == secretIndex {
			secret = kp.Secret
		}
	}
	image, err := crypto.GenerateKeyImage(pubs[secretIndex], secret)
	if err != nil {
		t.Fatalf("GenerateKeyImage: %v", err)
	}

	prefixHash := crypto.FastHash([]byte("original"))
	sigs, err := crypto.GenerateRingSignature(prefixHash, image, pubs, secret, secretIndex)
	if err != nil {
		t.Fatalf("GenerateRingSignature: %v", err)
	}

	tamperedHash := crypto.FastHash([]byte("tampered"))
	if crypto.CheckRingSignature(tamperedHash, image, pubs, sigs) {
		t.Fatal("expected verification against a different prefix hash to fail")
	}
}

func TestRingSignatureRejectsWrongKeyImage(t *testing.T) {
	crypto := NewDefaultCrypto()
	const ringSize = 3
	const secretIndex = 1

	pubs := make([]PublicKey, ringSize)
	var secret SecretKey
	for i := 0; i < ringSize; i++ {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair(%d): %v", i, err)
		}
		pubs[i] = kp.Public
		if i == secretIndex {
			secret = kp.Secret
		}
	}
	image, err := crypto.GenerateKeyImage(pubs[secretIndex], secret)
	if err != nil {
		t.Fatalf("GenerateKeyImage: %v", err)
	}

	prefixHash := crypto.FastHash([]byte("msg"))
	sigs, err := crypto.GenerateRingSignature(prefixHash, image, pubs, secret, secretIndex)
	if err != nil {
		t.Fatalf("GenerateRingSignature: %v", err)
	}

	otherKeyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	wrongImage, err := crypto.GenerateKeyImage(otherKeyPair.Public, otherKeyPair.Secret)
	if err != nil {
		t.Fatalf("GenerateKeyImage: %v", err)
	}

	if crypto.CheckRingSignature(prefixHash, wrongImage, pubs, sigs) {
		t.Fatal("expected verification to fail against a substituted key image")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	crypto := NewDefaultCrypto()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	msg := []byte("multisig co-signer message")
	sig, err := crypto.Sign(kp.Secret, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !crypto.Verify(kp.Public, msg, sig) {
		t.Fatal("expected Verify to accept a genuine signature")
	}
	if crypto.Verify(kp.Public, []byte("different message"), sig) {
		t.Fatal("expected Verify to reject a signature over a different message")
	}
}
