package core

import "encoding/hex"

// Hash is a 32-byte opaque identifier with a total order by lexicographic
// byte comparison, as used for block ids, transaction ids and key images.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Less implements the lexicographic total order required by §3.
func (h Hash) Less(other Hash) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

func (h Hash) IsZero() bool { return h == Hash{} }

func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, errInvalidHashLength
	}
	copy(h[:], b)
	return h, nil
}

// PublicKey, SecretKey, KeyImage are opaque 32-byte curve values; the actual
// arithmetic is performed by the CryptoProvider contract (crypto.go).
type PublicKey [32]byte
type SecretKey [32]byte
type KeyImage [32]byte

func (k PublicKey) String() string { return hex.EncodeToString(k[:]) }
func (k KeyImage) String() string  { return hex.EncodeToString(k[:]) }

// Signature is a 64-byte ring/Schnorr signature component.
type Signature [64]byte

// KeyPair is a matched (secret, public) pair.
type KeyPair struct {
	Public PublicKey
	Secret SecretKey
}

// KeyDerivation is the opaque 32-byte result of 8*r*A (tx-key-times-view-key)
// used to derive one-time output keys and key images (§4.6).
type KeyDerivation [32]byte

// AccountPublicAddress is a wallet's public address: a spend key and a view
// key. Encoded to/from Base58 text by wallet.Account.Address/wallet.ParseAddress.
type AccountPublicAddress struct {
	SpendPublicKey PublicKey
	ViewPublicKey  PublicKey
}
