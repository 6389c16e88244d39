package core

import "golang.org/x/crypto/sha3"

// wipeBytes best-effort zeroes a secret byte slice before it is dropped.
// Not a guarantee in Go (copies may already exist on the stack or in GC'd
// memory), but it shrinks the exposure window for a wallet's secret keys.
func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// WipeSecretKey zeroes a SecretKey in place, for callers discarding one
// after use (e.g. a one-shot transaction signing key).
func WipeSecretKey(k *SecretKey) {
	for i := range k {
		k[i] = 0
	}
}

// passwordHash is a fast SHA3-256 hash of a wallet password. It is not a
// password-hashing KDF (no salt, no work factor). Nothing in the module calls
// it: wallet/wallet.go derives its file key with Argon2id from the raw
// password.
func passwordHash(password []byte) [32]byte {
	return sha3.Sum256(password)
}
