package core

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/sha3"
)

// CryptoProvider is the abstract contract for the curve-arithmetic and
// hashing primitives the blockchain engine, pool and transfers synchronizer
// consume. Spec §1 treats the underlying Ed25519-family scalar math,
// Keccak and ring-signature implementations as external collaborators
// specified only by this interface; DefaultCrypto below is the concrete
// backend used everywhere in this module, built on well-known pure-Go
// curve libraries rather than a native/FFI backend.
type CryptoProvider interface {
	FastHash(data []byte) Hash
	HashToScalar(data []byte) [32]byte

	GenerateKeyPair() (KeyPair, error)
	CheckKey(pub PublicKey) bool

	GenerateKeyDerivation(txPublic PublicKey, viewSecret SecretKey) (KeyDerivation, error)
	DerivePublicKey(d KeyDerivation, outputIndex uint32, base PublicKey) (PublicKey, error)
	DeriveSecretKey(d KeyDerivation, outputIndex uint32, base SecretKey) SecretKey

	GenerateKeyImage(pub PublicKey, sec SecretKey) (KeyImage, error)

	GenerateRingSignature(prefixHash Hash, image KeyImage, pubs []PublicKey, sec SecretKey, secIndex int) ([]Signature, error)
	CheckRingSignature(prefixHash Hash, image KeyImage, pubs []PublicKey, sigs []Signature) bool

	Sign(sec SecretKey, msg []byte) (Signature, error)
	Verify(pub PublicKey, msg []byte, sig Signature) bool
}

var errInvalidHashLength = errors.New("core: invalid hash length")

// DefaultCrypto is the process-wide CryptoProvider. It is created once at
// main() and threaded through via context structs (Blockchain, Pool,
// transfers.Synchronizer), never referenced as a package-level singleton
// from consuming code.
type DefaultCrypto struct{}

func NewDefaultCrypto() *DefaultCrypto { return &DefaultCrypto{} }

func (DefaultCrypto) FastHash(data []byte) Hash {
	return Hash(sha3.Sum256(data))
}

// HashToScalar reduces a Keccak-256 digest of data modulo the curve order,
// the "Hs" function throughout the CryptoNote literature.
func (c DefaultCrypto) HashToScalar(data []byte) [32]byte {
	digest := sha3.Sum256(data)
	s, err := edwards25519.NewScalar().SetUniformBytes(expandTo64(digest[:]))
	if err != nil {
		// SetUniformBytes only fails on wrong-length input, which cannot
		// happen here; a panic would be a programming error, not a runtime one.
		panic(err)
	}
	var out [32]byte
	copy(out[:], s.Bytes())
	return out
}

func expandTo64(b32 []byte) []byte {
	out := make([]byte, 64)
	copy(out, b32)
	copy(out[32:], b32)
	return out
}

func (c DefaultCrypto) GenerateKeyPair() (KeyPair, error) {
	var secBytes [32]byte
	if _, err := rand.Read(secBytes[:]); err != nil {
		return KeyPair{}, err
	}
	sc, err := edwards25519.NewScalar().SetUniformBytes(expandTo64(secBytes[:]))
	if err != nil {
		return KeyPair{}, err
	}
	pub := new(edwards25519.Point).ScalarBaseMult(sc)
	var kp KeyPair
	copy(kp.Secret[:], sc.Bytes())
	copy(kp.Public[:], pub.Bytes())
	return kp, nil
}

// CheckKey verifies pub is the canonical encoding of a valid point in the
// main subgroup (used by the engine to reject a key image that lies outside
// it, §4.3 step 6).
func (c DefaultCrypto) CheckKey(pub PublicKey) bool {
	p := new(edwards25519.Point)
	if _, err := p.SetBytes(pub[:]); err != nil {
		return false
	}
	if !bytes.Equal(p.Bytes(), pub[:]) {
		return false
	}
	// l*P == identity, computed as (l-1)*P + P since scalars are reduced mod l.
	var oneBytes [32]byte
	oneBytes[0] = 1
	one, _ := edwards25519.NewScalar().SetCanonicalBytes(oneBytes[:])
	q := new(edwards25519.Point).ScalarMult(edwards25519.NewScalar().Negate(one), p)
	q.Add(q, p)
	return q.Equal(edwards25519.NewIdentityPoint()) == 1
}

func scalarFromSecret(s SecretKey) (*edwards25519.Scalar, error) {
	return edwards25519.NewScalar().SetCanonicalBytes(s[:])
}

func pointFromPublic(p PublicKey) (*edwards25519.Point, error) {
	return new(edwards25519.Point).SetBytes(p[:])
}

// GenerateKeyDerivation computes D = 8*a*R where a is the recipient's view
// secret and R is the transaction public key (§4.6 step 2).
func (c DefaultCrypto) GenerateKeyDerivation(txPublic PublicKey, viewSecret SecretKey) (KeyDerivation, error) {
	R, err := pointFromPublic(txPublic)
	if err != nil {
		return KeyDerivation{}, fmt.Errorf("generate key derivation: %w", err)
	}
	a, err := scalarFromSecret(viewSecret)
	if err != nil {
		return KeyDerivation{}, fmt.Errorf("generate key derivation: %w", err)
	}
	p := new(edwards25519.Point).ScalarMult(a, R)
	p.MultByCofactor(p)
	var d KeyDerivation
	copy(d[:], p.Bytes())
	return d, nil
}

func derivationScalar(c DefaultCrypto, d KeyDerivation, outputIndex uint32) [32]byte {
	buf := append(append([]byte{}, d[:]...), varintBytes(uint64(outputIndex))...)
	return c.HashToScalar(buf)
}

// DerivePublicKey computes Hs(D,i)*G + base, the one-time output key check
// in §4.6 step 2: derive_public_key(D, i, spend_public) == output.key.
func (c DefaultCrypto) DerivePublicKey(d KeyDerivation, outputIndex uint32, base PublicKey) (PublicKey, error) {
	scalarBytes := derivationScalar(c, d, outputIndex)
	hs, err := edwards25519.NewScalar().SetCanonicalBytes(scalarBytes[:])
	if err != nil {
		return PublicKey{}, err
	}
	B, err := pointFromPublic(base)
	if err != nil {
		return PublicKey{}, err
	}
	out := new(edwards25519.Point).ScalarBaseMult(hs)
	out.Add(out, B)
	var pub PublicKey
	copy(pub[:], out.Bytes())
	return pub, nil
}

// DeriveSecretKey computes Hs(D,i) + base, the spend-side counterpart used
// by the wallet to recover the one-time secret key for an owned output.
func (c DefaultCrypto) DeriveSecretKey(d KeyDerivation, outputIndex uint32, base SecretKey) SecretKey {
	scalarBytes := derivationScalar(c, d, outputIndex)
	hs, _ := edwards25519.NewScalar().SetCanonicalBytes(scalarBytes[:])
	b, _ := scalarFromSecret(base)
	sum := edwards25519.NewScalar().Add(hs, b)
	var sec SecretKey
	copy(sec[:], sum.Bytes())
	return sec
}

// hashToPoint is the "Hp" function: Keccak(data) reduced to a scalar and
// lifted to a curve point via the base point. This stands in for the
// Elligator-based hash-to-point used by reference CryptoNote
// implementations, which filippo.io/edwards25519's public API does not
// expose; key-image unforgeability under this substitution is not claimed,
// only structural behavior for the purposes of this node.
func hashToPoint(c DefaultCrypto, data []byte) *edwards25519.Point {
	s := c.HashToScalar(data)
	sc, _ := edwards25519.NewScalar().SetCanonicalBytes(s[:])
	return new(edwards25519.Point).ScalarBaseMult(sc)
}

// GenerateKeyImage computes I = x*Hp(P), the per-output double-spend tag.
func (c DefaultCrypto) GenerateKeyImage(pub PublicKey, sec SecretKey) (KeyImage, error) {
	x, err := scalarFromSecret(sec)
	if err != nil {
		return KeyImage{}, err
	}
	hp := hashToPoint(c, pub[:])
	img := new(edwards25519.Point).ScalarMult(x, hp)
	var out KeyImage
	copy(out[:], img.Bytes())
	return out, nil
}

// GenerateRingSignature produces one (c,r) pair per ring member, tied
// together by a shared challenge derived from prefixHash and all ring
// commitments, and closed over the real signer's secret at secIndex. This
// is the classical CryptoNote ring-signature construction (the "I" image
// bounds every member's response without revealing which index is real).
func (c DefaultCrypto) GenerateRingSignature(prefixHash Hash, image KeyImage, pubs []PublicKey, sec SecretKey, secIndex int) ([]Signature, error) {
	n := len(pubs)
	if secIndex < 0 || secIndex >= n {
		return nil, fmt.Errorf("generate ring signature: secret index %d out of range", secIndex)
	}
	imagePoint, err := new(edwards25519.Point).SetBytes(image[:])
	if err != nil {
		return nil, fmt.Errorf("generate ring signature: bad key image: %w", err)
	}
	x, err := scalarFromSecret(sec)
	if err != nil {
		return nil, err
	}

	cs := make([]*edwards25519.Scalar, n)
	rs := make([]*edwards25519.Scalar, n)
	Ls := make([]*edwards25519.Point, n)
	Rs := make([]*edwards25519.Point, n)

	var k *edwards25519.Scalar
	buf := make([]byte, 0, len(prefixHash)+n*64)
	buf = append(buf, prefixHash[:]...)

	for i, pk := range pubs {
		Pi, err := pointFromPublic(pk)
		if err != nil {
			return nil, fmt.Errorf("generate ring signature: bad ring member %d: %w", i, err)
		}
		Hpi := hashToPoint(c, pk[:])
		if i == secIndex {
			kb := randomScalarBytes()
			k, _ = edwards25519.NewScalar().SetUniformBytes(kb)
			Ls[i] = new(edwards25519.Point).ScalarBaseMult(k)
			Rs[i] = new(edwards25519.Point).ScalarMult(k, Hpi)
		} else {
			cb := randomScalarBytes()
			rb := randomScalarBytes()
			ci, _ := edwards25519.NewScalar().SetUniformBytes(cb)
			ri, _ := edwards25519.NewScalar().SetUniformBytes(rb)
			cs[i] = ci
			rs[i] = ri
			rG := new(edwards25519.Point).ScalarBaseMult(ri)
			cP := new(edwards25519.Point).ScalarMult(ci, Pi)
			Ls[i] = new(edwards25519.Point).Add(rG, cP)
			rH := new(edwards25519.Point).ScalarMult(ri, Hpi)
			cI := new(edwards25519.Point).ScalarMult(ci, imagePoint)
			Rs[i] = new(edwards25519.Point).Add(rH, cI)
		}
		buf = append(buf, Ls[i].Bytes()...)
		buf = append(buf, Rs[i].Bytes()...)
	}

	challenge := c.HashToScalar(buf)
	h, err := edwards25519.NewScalar().SetCanonicalBytes(challenge[:])
	if err != nil {
		return nil, err
	}

	sum := edwards25519.NewScalar()
	for i := range pubs {
		if i == secIndex {
			continue
		}
		sum = edwards25519.NewScalar().Add(sum, cs[i])
	}
	cSec := edwards25519.NewScalar().Subtract(h, sum)
	rSec := edwards25519.NewScalar().Subtract(k, edwards25519.NewScalar().Multiply(cSec, x))
	cs[secIndex] = cSec
	rs[secIndex] = rSec

	sigs := make([]Signature, n)
	for i := range pubs {
		copy(sigs[i][:32], cs[i].Bytes())
		copy(sigs[i][32:], rs[i].Bytes())
	}
	return sigs, nil
}

// CheckRingSignature recomputes the shared challenge from the ring and
// verifies it against the sum of per-member (c,r) pairs.
func (c DefaultCrypto) CheckRingSignature(prefixHash Hash, image KeyImage, pubs []PublicKey, sigs []Signature) bool {
	if len(pubs) != len(sigs) || len(pubs) == 0 {
		return false
	}
	imagePoint, err := new(edwards25519.Point).SetBytes(image[:])
	if err != nil {
		return false
	}

	buf := make([]byte, 0, len(prefixHash)+len(pubs)*64)
	buf = append(buf, prefixHash[:]...)
	sum := edwards25519.NewScalar()

	for i, pk := range pubs {
		ci, err := edwards25519.NewScalar().SetCanonicalBytes(sigs[i][:32])
		if err != nil {
			return false
		}
		ri, err := edwards25519.NewScalar().SetCanonicalBytes(sigs[i][32:])
		if err != nil {
			return false
		}
		Pi, err := pointFromPublic(pk)
		if err != nil {
			return false
		}
		Hpi := hashToPoint(c, pk[:])

		rG := new(edwards25519.Point).ScalarBaseMult(ri)
		cP := new(edwards25519.Point).ScalarMult(ci, Pi)
		L := new(edwards25519.Point).Add(rG, cP)

		rH := new(edwards25519.Point).ScalarMult(ri, Hpi)
		cI := new(edwards25519.Point).ScalarMult(ci, imagePoint)
		R := new(edwards25519.Point).Add(rH, cI)

		buf = append(buf, L.Bytes()...)
		buf = append(buf, R.Bytes()...)
		sum = edwards25519.NewScalar().Add(sum, ci)
	}

	challenge := c.HashToScalar(buf)
	h, err := edwards25519.NewScalar().SetCanonicalBytes(challenge[:])
	if err != nil {
		return false
	}
	return h.Equal(sum) == 1
}

// Sign/Verify implement the plain Schnorr signatures used for multisig
// deposit inputs, where each of the required co-signers signs independently
// rather than forming a ring (§3 witness: "up to required_signatures
// signatures per multisig input").
func (c DefaultCrypto) Sign(sec SecretKey, msg []byte) (Signature, error) {
	x, err := scalarFromSecret(sec)
	if err != nil {
		return Signature{}, err
	}
	pub := new(edwards25519.Point).ScalarBaseMult(x)
	kb := randomScalarBytes()
	k, _ := edwards25519.NewScalar().SetUniformBytes(kb)
	R := new(edwards25519.Point).ScalarBaseMult(k)

	buf := append(append([]byte{}, pub.Bytes()...), R.Bytes()...)
	buf = append(buf, msg...)
	eb := c.HashToScalar(buf)
	e, _ := edwards25519.NewScalar().SetCanonicalBytes(eb[:])

	s := edwards25519.NewScalar().Subtract(k, edwards25519.NewScalar().Multiply(e, x))

	var sig Signature
	copy(sig[:32], e.Bytes())
	copy(sig[32:], s.Bytes())
	return sig, nil
}

func (c DefaultCrypto) Verify(pub PublicKey, msg []byte, sig Signature) bool {
	P, err := pointFromPublic(pub)
	if err != nil {
		return false
	}
	e, err := edwards25519.NewScalar().SetCanonicalBytes(sig[:32])
	if err != nil {
		return false
	}
	s, err := edwards25519.NewScalar().SetCanonicalBytes(sig[32:])
	if err != nil {
		return false
	}
	sG := new(edwards25519.Point).ScalarBaseMult(s)
	eP := new(edwards25519.Point).ScalarMult(e, P)
	R := new(edwards25519.Point).Add(sG, eP)

	buf := append(append([]byte{}, pub[:]...), R.Bytes()...)
	buf = append(buf, msg...)
	eb := c.HashToScalar(buf)
	eCheck, err := edwards25519.NewScalar().SetCanonicalBytes(eb[:])
	if err != nil {
		return false
	}
	return eCheck.Equal(e) == 1
}

func randomScalarBytes() []byte {
	b := make([]byte, 64)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}
