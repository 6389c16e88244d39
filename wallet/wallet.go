package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/syfer-network/cnnode/core"
)

// wipeBytes best-effort zeroes a byte slice.
func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// TransactionRecord is one entry of the cache's transactions[] (§4.7): the
// local view of a transaction regardless of direction, keyed by TxID.
type TransactionRecord struct {
	TxID        core.Hash
	Timestamp   int64
	BlockHeight uint32 // 0 until confirmed
	Sent        bool
	Fee         uint64
	TotalAmount uint64
	Extra       []byte
	Messages    [][]byte
	SecretKey   *core.SecretKey
}

// TransferRecord is one entry of transfers[]: a single destination within
// a sent transaction.
type TransferRecord struct {
	TxID    core.Hash
	Address string
	Amount  uint64
	Message []byte
}

// UnconfirmedRecord is one entry of unconfirmed_transactions: a transaction
// this wallet submitted that the chain has not yet confirmed, plus the
// outputs it consumed (so a second builder call doesn't reuse them).
type UnconfirmedRecord struct {
	TxID        core.Hash
	UsedOutputs []outpoint
	SentAt      int64
}

// BalanceChange is the six-field event §4.7 produces whenever the cache's
// balance-affecting state changes.
type BalanceChange struct {
	Available         uint64
	Pending           uint64
	LockedDeposit     uint64
	UnlockedDeposit   uint64
	LockedInvestment  uint64
	UnlockedInvestment uint64
}

// cacheData is the serializable cache state.
type cacheData struct {
	Version           uint32                        `json:"version"`
	ViewOnly          bool                          `json:"view_only"`
	Mnemonic          string                        `json:"mnemonic,omitempty"`
	Account           Account                       `json:"account"`
	Outputs           []*OwnedOutput                `json:"outputs"`
	Transactions      []*TransactionRecord          `json:"transactions"`
	Transfers         []*TransferRecord             `json:"transfers"`
	Deposits          []*Deposit                    `json:"deposits"`
	Unconfirmed       map[string]*UnconfirmedRecord `json:"unconfirmed_transactions"`
	SyncedHeight      uint32                        `json:"synced_height"`
	CreatedAt         int64                         `json:"created_at"`
}

// Cache is the durable wallet transaction cache (§4.7): a concrete,
// encrypted-at-rest record of transactions[], transfers[], deposits[],
// unconfirmed_transactions and payment_id_index, fed by a Synchronizer's
// UpdateListener callbacks. Grounded on the teacher's Wallet (same
// encrypted-JSON persistence shape, same in-memory mutex-guarded struct),
// generalized from a single flat Outputs[] balance tracker to the richer
// §4.7 record set the deposit-bearing CryptoNote model requires.
type Cache struct {
	mu sync.RWMutex

	data     cacheData
	filename string
	password []byte

	paymentIDIndex map[string][]int // payment id (hex) -> index into data.Transactions

	onBalanceChanged func(BalanceChange)
}

func NewCache(filename string, password []byte, account Account, mnemonic string) *Cache {
	c := &Cache{
		filename: filename,
		password: cloneBytes(password),
		data: cacheData{
			Version:     1,
			ViewOnly:    account.ViewOnly,
			Mnemonic:    mnemonic,
			Account:     account,
			Unconfirmed: make(map[string]*UnconfirmedRecord),
			CreatedAt:   time.Now().Unix(),
		},
		paymentIDIndex: make(map[string][]int),
	}
	return c
}

func LoadCache(filename string, password []byte) (*Cache, error) {
	encrypted, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("wallet: read cache file: %w", err)
	}
	plaintext, err := decrypt(encrypted, password)
	if err != nil {
		return nil, fmt.Errorf("wallet: decrypt cache (wrong password?): %w", err)
	}
	defer wipeBytes(plaintext)

	var data cacheData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("wallet: parse cache: %w", err)
	}
	if data.Unconfirmed == nil {
		data.Unconfirmed = make(map[string]*UnconfirmedRecord)
	}

	c := &Cache{
		filename: filename,
		password: cloneBytes(password),
		data:     data,
	}
	c.rebuildPaymentIDIndex()
	return c, nil
}

func LoadOrCreateCache(filename string, password []byte, account Account, mnemonic string) (*Cache, error) {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		c := NewCache(filename, password, account, mnemonic)
		return c, c.Save()
	}
	return LoadCache(filename, password)
}

func (c *Cache) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	plaintext, err := json.Marshal(c.data)
	if err != nil {
		return fmt.Errorf("wallet: marshal cache: %w", err)
	}
	defer wipeBytes(plaintext)

	encrypted, err := encrypt(plaintext, c.password)
	if err != nil {
		return fmt.Errorf("wallet: encrypt cache: %w", err)
	}
	return os.WriteFile(c.filename, encrypted, 0600)
}

func (c *Cache) Account() Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Account
}

func (c *Cache) SetOnBalanceChanged(f func(BalanceChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onBalanceChanged = f
}

func (c *Cache) rebuildPaymentIDIndex() {
	c.paymentIDIndex = make(map[string][]int)
	for i, tx := range c.data.Transactions {
		fields, err := core.ParseExtra(tx.Extra)
		if err != nil || fields.PaymentID == nil {
			continue
		}
		key := fmt.Sprintf("%x", fields.PaymentID)
		c.paymentIDIndex[key] = append(c.paymentIDIndex[key], i)
	}
}

// TransactionsByPaymentID answers the payment_id_index lookup §4.7 names.
func (c *Cache) TransactionsByPaymentID(paymentID []byte) []*TransactionRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key := fmt.Sprintf("%x", paymentID)
	idxs := c.paymentIDIndex[key]
	out := make([]*TransactionRecord, 0, len(idxs))
	for _, i := range idxs {
		if i < len(c.data.Transactions) {
			out = append(out, c.data.Transactions[i])
		}
	}
	return out
}

// RecordSend appends a transactions[]/transfers[] entry for a transaction
// this wallet just built and submitted, and reserves it in
// unconfirmed_transactions until the synchronizer confirms or drops it.
func (c *Cache) RecordSend(txID core.Hash, totalAmount, fee uint64, extra []byte, transfers []TransferRecord, usedOutputs []outpoint, secretKey core.SecretKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := &TransactionRecord{
		TxID: txID, Timestamp: time.Now().Unix(), Sent: true,
		Fee: fee, TotalAmount: totalAmount, Extra: extra, SecretKey: &secretKey,
	}
	c.data.Transactions = append(c.data.Transactions, rec)
	idx := len(c.data.Transactions) - 1

	for i := range transfers {
		transfers[i].TxID = txID
		c.data.Transfers = append(c.data.Transfers, &transfers[i])
	}

	c.data.Unconfirmed[txID.String()] = &UnconfirmedRecord{
		TxID: txID, UsedOutputs: usedOutputs, SentAt: rec.Timestamp,
	}

	if fields, err := core.ParseExtra(extra); err == nil && fields.PaymentID != nil {
		key := fmt.Sprintf("%x", fields.PaymentID)
		c.paymentIDIndex[key] = append(c.paymentIDIndex[key], idx)
	}
}

// OnTransactionUpdated implements UpdateListener: confirms a transaction's
// block height once seen on-chain (clearing its unconfirmed reservation),
// or records a brand-new incoming transaction the wallet didn't send.
func (c *Cache) OnTransactionUpdated(out *OwnedOutput) {
	c.mu.Lock()
	delete(c.data.Unconfirmed, out.TxID.String())

	found := false
	for _, rec := range c.data.Transactions {
		if rec.TxID == out.TxID {
			rec.BlockHeight = out.BlockHeight
			found = true
			break
		}
	}
	if !found && !out.IsCoinbase {
		c.data.Transactions = append(c.data.Transactions, &TransactionRecord{
			TxID: out.TxID, Timestamp: time.Now().Unix(),
			BlockHeight: out.BlockHeight, TotalAmount: out.Amount,
		})
	}
	outputs := replaceOutput(c.data.Outputs, out)
	c.data.Outputs = outputs
	c.mu.Unlock()

	c.publishBalance()
}

// OnTransactionDeleted implements UpdateListener for the reorg-detach path.
func (c *Cache) OnTransactionDeleted(out *OwnedOutput) {
	c.mu.Lock()
	kept := c.data.Outputs[:0:0]
	for _, existing := range c.data.Outputs {
		if existing.TxID == out.TxID && existing.OutputIndex == out.OutputIndex {
			continue
		}
		kept = append(kept, existing)
	}
	c.data.Outputs = kept
	c.mu.Unlock()
	c.publishBalance()
}

func (c *Cache) OnTransfersLocked(dep *Deposit) {
	c.mu.Lock()
	c.data.Deposits = append(c.data.Deposits, dep)
	c.mu.Unlock()
	c.publishBalance()
}

func (c *Cache) OnTransfersUnlocked(dep *Deposit) {
	c.mu.Lock()
	for _, d := range c.data.Deposits {
		if d.CreatingTxID == dep.CreatingTxID {
			d.State = dep.State
		}
	}
	c.mu.Unlock()
	c.publishBalance()
}

func replaceOutput(outputs []*OwnedOutput, out *OwnedOutput) []*OwnedOutput {
	for i, existing := range outputs {
		if existing.TxID == out.TxID && existing.OutputIndex == out.OutputIndex {
			outputs[i] = out
			return outputs
		}
	}
	return append(outputs, out)
}

func (c *Cache) publishBalance() {
	c.mu.RLock()
	bc := c.computeBalanceLocked()
	cb := c.onBalanceChanged
	c.mu.RUnlock()
	if cb != nil {
		cb(bc)
	}
}

func (c *Cache) computeBalanceLocked() BalanceChange {
	var bc BalanceChange
	for _, out := range c.data.Outputs {
		switch out.State {
		case StateUnlocked:
			bc.Available += out.Amount
		case StateSoftLocked, StateUnconfirmed:
			bc.Pending += out.Amount
		}
	}
	for _, dep := range c.data.Deposits {
		switch dep.State {
		case DepositLocked:
			bc.LockedDeposit += dep.Amount
			bc.LockedInvestment += dep.Interest
		case DepositUnlocked:
			bc.UnlockedDeposit += dep.Amount
			bc.UnlockedInvestment += dep.Interest
		}
	}
	return bc
}

func (c *Cache) Balance() BalanceChange {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.computeBalanceLocked()
}

func (c *Cache) SpendableOutputs() []*OwnedOutput {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*OwnedOutput
	for _, o := range c.data.Outputs {
		if o.State == StateUnlocked && o.Term == 0 {
			clone := *o
			out = append(out, &clone)
		}
	}
	return out
}

func (c *Cache) ReservedOutpoints() map[outpoint]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reserved := make(map[outpoint]bool)
	for _, rec := range c.data.Unconfirmed {
		for _, op := range rec.UsedOutputs {
			reserved[op] = true
		}
	}
	return reserved
}

func (c *Cache) Mnemonic() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data.ViewOnly {
		return ""
	}
	return c.data.Mnemonic
}

// ============================================================================
// Encryption (Argon2id + AES-GCM), same format as the teacher's encrypted
// wallet file.
// ============================================================================

const (
	cacheEncMagic   = "CNNODEWLT"
	cacheSaltLen    = 16
	cacheKeyLen     = 32
	cacheHeaderLen  = 9 + 4 + 4 + 1 // magic(9) + time(4) + memKiB(4) + threads(1)
)

func deriveKey(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, 3, 256*1024, 4, cacheKeyLen)
}

func encrypt(plaintext, password []byte) ([]byte, error) {
	salt := make([]byte, cacheSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveKey(password, salt)
	defer wipeBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	result := make([]byte, 0, cacheHeaderLen+cacheSaltLen+len(nonce)+len(ciphertext))
	result = append(result, []byte(cacheEncMagic)...)
	var timeBuf, memBuf [4]byte
	binary.BigEndian.PutUint32(timeBuf[:], 3)
	binary.BigEndian.PutUint32(memBuf[:], 256*1024)
	result = append(result, timeBuf[:]...)
	result = append(result, memBuf[:]...)
	result = append(result, 4)
	result = append(result, salt...)
	result = append(result, nonce...)
	result = append(result, ciphertext...)
	return result, nil
}

func decrypt(data, password []byte) ([]byte, error) {
	if len(data) < cacheHeaderLen+cacheSaltLen {
		return nil, errors.New("wallet: ciphertext too short")
	}
	if string(data[:len(cacheEncMagic)]) != cacheEncMagic {
		return nil, errors.New("wallet: unrecognized cache file format")
	}
	off := len(cacheEncMagic) + 9
	salt := data[off : off+cacheSaltLen]
	off += cacheSaltLen

	key := deriveKey(password, salt)
	defer wipeBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < off+nonceSize {
		return nil, errors.New("wallet: ciphertext too short")
	}
	nonce := data[off : off+nonceSize]
	ciphertext := data[off+nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
