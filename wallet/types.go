package wallet

import (
	"errors"

	"github.com/btcsuite/btcutil/base58"

	"github.com/syfer-network/cnnode/core"
	"github.com/syfer-network/cnnode/protocol/params"
)

// Account is the subscription key set a Synchronizer scans against: a view
// keypair (always held, even by a view-only wallet) and a spend keypair
// (nil Secret for view-only accounts, which can detect incoming funds but
// not derive one-time spend keys or key images).
type Account struct {
	SpendPublic core.PublicKey
	SpendSecret core.SecretKey
	ViewPublic  core.PublicKey
	ViewSecret  core.SecretKey
	ViewOnly    bool
}

// Address returns the standard CryptoNote address: varint network prefix,
// spend public key, view public key, and a 4-byte checksum, Base58 encoded.
// Grounded on the teacher's StealthKeys.Address (same checksum-then-base58
// shape), adapted from the teacher's 64-byte stealth-commitment payload to
// the reference's plain two-pubkey address body and its real AddressPrefix.
func (a Account) Address() string {
	return EncodeAddress(core.AccountPublicAddress{SpendPublicKey: a.SpendPublic, ViewPublicKey: a.ViewPublic})
}

// EncodeAddress Base58-encodes a core.AccountPublicAddress the way the
// chain's address format names it: varint network prefix, spend public
// key, view public key, 4-byte checksum.
func EncodeAddress(addr core.AccountPublicAddress) string {
	w := core.NewWriter()
	w.PutVarint(params.AddressPrefix)
	w.PutRaw(addr.SpendPublicKey[:])
	w.PutRaw(addr.ViewPublicKey[:])
	body := w.Bytes()
	sum := core.NewDefaultCrypto().FastHash(body)
	full := append(append([]byte{}, body...), sum[:4]...)
	return base58.Encode(full)
}

// ParseAddress decodes an address produced by Account.Address/EncodeAddress.
func ParseAddress(address string) (core.AccountPublicAddress, error) {
	var addr core.AccountPublicAddress
	decoded := base58.Decode(address)
	if len(decoded) < 4 {
		return addr, errors.New("wallet: address too short")
	}
	body, checksum := decoded[:len(decoded)-4], decoded[len(decoded)-4:]
	sum := core.NewDefaultCrypto().FastHash(body)
	if sum[0] != checksum[0] || sum[1] != checksum[1] || sum[2] != checksum[2] || sum[3] != checksum[3] {
		return addr, errors.New("wallet: invalid address checksum")
	}

	r := core.NewReader(body)
	prefix, err := r.GetVarint()
	if err != nil || prefix != params.AddressPrefix {
		return addr, errors.New("wallet: unrecognized address prefix")
	}
	spendBytes, err := r.GetFixed(32)
	if err != nil {
		return addr, err
	}
	viewBytes, err := r.GetFixed(32)
	if err != nil {
		return addr, err
	}
	copy(addr.SpendPublicKey[:], spendBytes)
	copy(addr.ViewPublicKey[:], viewBytes)
	return addr, nil
}

// OutputState is an owned output's position in the §4.6 state machine:
// unconfirmed → soft-locked → (locked, deposits only) → unlocked → spent.
type OutputState int

const (
	StateUnconfirmed OutputState = iota
	StateSoftLocked
	StateLocked
	StateUnlocked
	StateSpent
)

func (s OutputState) String() string {
	switch s {
	case StateUnconfirmed:
		return "unconfirmed"
	case StateSoftLocked:
		return "soft_locked"
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	case StateSpent:
		return "spent"
	default:
		return "unknown"
	}
}

// OwnedOutput is one output the synchronizer has matched to the account,
// carrying everything needed both to report a balance and to spend it.
type OwnedOutput struct {
	TxID          core.Hash
	OutputIndex   uint32
	GlobalIndex   uint64
	Amount        uint64
	OneTimePublic core.PublicKey
	OneTimeSecret core.SecretKey
	KeyImage      core.KeyImage
	BlockHeight   uint32
	IsCoinbase    bool
	State         OutputState
	SpentHeight   uint32
	SpentTxID     core.Hash

	// Term is nonzero for a multisig deposit output (§4.4); Deposit holds
	// the accrual bookkeeping for such an output.
	Term    uint32
	Deposit *Deposit
}

// DepositState mirrors the Locked/Unlocked/Spent transitions spec §4.6
// names explicitly for deposit accounting.
type DepositState int

const (
	DepositLocked DepositState = iota
	DepositUnlocked
	DepositSpent
)

func (s DepositState) String() string {
	switch s {
	case DepositLocked:
		return "locked"
	case DepositUnlocked:
		return "unlocked"
	case DepositSpent:
		return "spent"
	default:
		return "unknown"
	}
}

// Deposit is the accrual record for one multisig deposit output, per §4.6
// "Deposit accounting".
type Deposit struct {
	Amount        uint64
	Term          uint32
	Interest      uint64
	CreatingTxID  core.Hash
	CreatingHeight uint32
	UnlockHeight  uint32
	State         DepositState
	SpendingTxID  core.Hash
}
