package core

import (
	"container/heap"
	"errors"
	"math/big"
	"sync"
	"time"
)

// Pool is the unconfirmed-transaction mempool: fee-priority ordering,
// double-spend guarding, and block-template selection (§4.4). Grounded on
// the teacher's mempool.go (container/heap priority queue keyed by fee
// rate, sync.RWMutex guarded maps, OnBlockConnected/Disconnected hooks),
// adapted from a per-byte fee-rate float to a cross-multiplied big.Int
// comparator so two candidates can be compared without ever dividing (the
// reference's tx_memory_pool comparator avoids float fee/byte entirely for
// the same reason).
type PoolConfig struct {
	MaxSize        int
	MaxSizeBytes   int
	ExpirationTime time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:        5000,
		MaxSizeBytes:   100 * 1024 * 1024,
		ExpirationTime: 24 * time.Hour,
	}
}

var (
	ErrCoinbaseInPool   = errors.New("core: coinbase transaction cannot enter the pool")
	ErrDoubleSpendInPool = errors.New("core: key image already used by a pooled transaction")
	ErrPoolFull         = errors.New("core: pool is full")
)

type PoolEntry struct {
	Tx      Transaction
	ID      Hash
	Fee     uint64
	Size    int
	Fusion  bool
	AddedAt time.Time

	index int
}

// IsKeyImageSpentFunc checks blockchain-committed spend state (not pool state).
type IsKeyImageSpentFunc func(KeyImage) bool

type Pool struct {
	mu sync.RWMutex

	config PoolConfig
	params Params

	byID    map[Hash]*PoolEntry
	byImage map[KeyImage]Hash

	queue poolPriorityQueue

	isKeyImageSpent IsKeyImageSpentFunc

	totalSize int
}

func NewPool(cfg PoolConfig, params Params, isSpent IsKeyImageSpentFunc) *Pool {
	return &Pool{
		config:          cfg,
		params:          params,
		byID:            make(map[Hash]*PoolEntry),
		byImage:         make(map[KeyImage]Hash),
		queue:           make(poolPriorityQueue, 0),
		isKeyImageSpent: isSpent,
	}
}

func transactionFee(tx *TransactionPrefix) uint64 {
	var inSum, outSum uint64
	for _, in := range tx.Inputs {
		switch {
		case in.Key != nil:
			inSum += in.Key.Amount
		case in.Multisig != nil:
			inSum += in.Multisig.Amount
		}
	}
	for _, out := range tx.Outputs {
		outSum += out.Amount
	}
	if inSum < outSum {
		return 0
	}
	return inSum - outSum
}

// isFusionCandidate reports whether tx matches the shape a fusion
// transaction is exempt from the minimum-fee rule under (§4.4): at least
// FusionTxMinInputCount inputs, an input/output count ratio of at least
// FusionTxMinInOutCountRatio, zero fee. Input amounts are not compared.
// AddTransaction additionally caps a fusion transaction's size.
func isFusionCandidate(tx *TransactionPrefix, p Params) bool {
	if transactionFee(tx) != 0 {
		return false
	}
	if len(tx.Inputs) < int(p.FusionTxMinInputCount) {
		return false
	}
	if len(tx.Outputs) == 0 {
		return false
	}
	ratio := len(tx.Inputs) / len(tx.Outputs)
	return ratio >= p.FusionTxMinInOutCountRatio
}

// AddTransaction validates and inserts tx into the pool (reference's
// add_tx). size is the caller's serialized length, used for fee-priority
// comparison and pool byte-capacity accounting.
func (p *Pool) AddTransaction(tx Transaction, id Hash, size int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tx.IsCoinbase() {
		return ErrCoinbaseInPool
	}
	if _, exists := p.byID[id]; exists {
		return nil
	}

	for _, in := range tx.Inputs {
		if in.Key == nil {
			continue
		}
		if existing, exists := p.byImage[in.Key.KeyImage]; exists && existing != id {
			return ErrDoubleSpendInPool
		}
		if p.isKeyImageSpent != nil && p.isKeyImageSpent(in.Key.KeyImage) {
			return ErrDoubleSpendInPool
		}
	}

	fee := transactionFee(&tx.TransactionPrefix)
	fusion := isFusionCandidate(&tx.TransactionPrefix, p.params) && uint64(size) <= p.params.FusionTxMaxSize
	if !fusion && fee < p.params.MinimumFee {
		return errors.New("core: fee below minimum")
	}

	if len(p.byID) >= p.config.MaxSize || p.totalSize+size > p.config.MaxSizeBytes {
		if !p.evictLowestPriority(fee, size) {
			return ErrPoolFull
		}
	}

	entry := &PoolEntry{Tx: tx, ID: id, Fee: fee, Size: size, Fusion: fusion, AddedAt: time.Now()}
	p.insertLocked(entry)
	return nil
}

func (p *Pool) insertLocked(entry *PoolEntry) {
	p.byID[entry.ID] = entry
	for _, in := range entry.Tx.Inputs {
		if in.Key != nil {
			p.byImage[in.Key.KeyImage] = entry.ID
		}
	}
	heap.Push(&p.queue, entry)
	p.totalSize += entry.Size
}

// priorityLess reports whether a has strictly lower fee-per-byte priority
// than b, computed by cross-multiplication (a.Fee*b.Size < b.Fee*a.Size) so
// no division or float ever enters the comparison.
func priorityLess(a, b *PoolEntry) bool {
	if a.Fusion != b.Fusion {
		return a.Fusion // fusion transactions always sort lowest priority
	}
	left := new(big.Int).Mul(big.NewInt(int64(a.Fee)), big.NewInt(int64(b.Size)))
	right := new(big.Int).Mul(big.NewInt(int64(b.Fee)), big.NewInt(int64(a.Size)))
	return left.Cmp(right) < 0
}

func (p *Pool) evictLowestPriority(candidateFee uint64, candidateSize int) bool {
	if len(p.queue) == 0 {
		return false
	}
	lowestIdx := 0
	for i := 1; i < len(p.queue); i++ {
		if priorityLess(p.queue[i], p.queue[lowestIdx]) {
			lowestIdx = i
		}
	}
	lowest := p.queue[lowestIdx]
	candidate := &PoolEntry{Fee: candidateFee, Size: candidateSize}
	if !priorityLess(lowest, candidate) {
		return false
	}
	p.removeLocked(lowest.ID)
	return true
}

func (p *Pool) removeLocked(id Hash) {
	entry, exists := p.byID[id]
	if !exists {
		return
	}
	delete(p.byID, id)
	for _, in := range entry.Tx.Inputs {
		if in.Key != nil {
			delete(p.byImage, in.Key.KeyImage)
		}
	}
	p.totalSize -= entry.Size
	if entry.index >= 0 && entry.index < len(p.queue) {
		heap.Remove(&p.queue, entry.index)
	}
}

// TakeTransaction removes and returns a transaction (reference's take_tx).
func (p *Pool) TakeTransaction(id Hash) (Transaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, exists := p.byID[id]
	if !exists {
		return Transaction{}, false
	}
	p.removeLocked(id)
	return entry.Tx, true
}

func (p *Pool) HasTransaction(id Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.byID[id]
	return exists
}

// GetTransaction peeks a pooled transaction without removing it, for the
// P2P layer answering RequestGetObjects/RequestTxPool without disturbing
// local pool state.
func (p *Pool) GetTransaction(id Hash) (Transaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, exists := p.byID[id]
	if !exists {
		return Transaction{}, false
	}
	return entry.Tx, true
}

// AllTransactionIDs returns every pooled transaction id, for answering a
// RequestTxPool with the set difference against the requester's Have list.
func (p *Pool) AllTransactionIDs() []Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]Hash, 0, len(p.byID))
	for id := range p.byID {
		ids = append(ids, id)
	}
	return ids
}

func (p *Pool) HasKeyImage(ki KeyImage) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.byImage[ki]
	return exists
}

// FillBlockTemplate selects pooled transactions by descending priority
// until maxSize bytes or maxCount transactions is reached (reference's
// fill_block_template).
func (p *Pool) FillBlockTemplate(maxSize, maxCount int) []PoolEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := make([]*PoolEntry, len(p.queue))
	copy(entries, p.queue)
	for i := 0; i < len(entries)-1; i++ {
		for j := i + 1; j < len(entries); j++ {
			if priorityLess(entries[i], entries[j]) {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	var result []PoolEntry
	size := 0
	for _, e := range entries {
		if len(result) >= maxCount {
			break
		}
		if size+e.Size > maxSize {
			continue
		}
		result = append(result, *e)
		size += e.Size
	}
	return result
}

// OnBlockchainInc removes transactions that a newly connected block made
// redundant: those it includes directly, and any pool tx now double-spent
// by it (reference's on_blockchain_inc).
func (p *Pool) OnBlockchainInc(includedIDs []Hash, spentKeyImages []KeyImage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range includedIDs {
		p.removeLocked(id)
	}
	for _, ki := range spentKeyImages {
		if id, exists := p.byImage[ki]; exists {
			p.removeLocked(id)
		}
	}
}

// OnBlockchainDec re-admits transactions from a disconnected block back
// into the pool, skipping any that are now double-spent on the surviving
// chain (reference's on_blockchain_dec).
func (p *Pool) OnBlockchainDec(disconnected []struct {
	ID   Hash
	Tx   Transaction
	Size int
}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range disconnected {
		if d.Tx.IsCoinbase() {
			continue
		}
		if _, exists := p.byID[d.ID]; exists {
			continue
		}
		conflict := false
		for _, in := range d.Tx.Inputs {
			if in.Key == nil {
				continue
			}
			if existing, exists := p.byImage[in.Key.KeyImage]; exists && existing != d.ID {
				conflict = true
				break
			}
			if p.isKeyImageSpent != nil && p.isKeyImageSpent(in.Key.KeyImage) {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		fee := transactionFee(&d.Tx.TransactionPrefix)
		p.insertLocked(&PoolEntry{Tx: d.Tx, ID: d.ID, Fee: fee, Size: d.Size, AddedAt: time.Now()})
	}
}

// OnIdle evicts transactions that have overstayed ExpirationTime (reference's
// on_idle housekeeping).
func (p *Pool) OnIdle() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-p.config.ExpirationTime)
	var toRemove []Hash
	for id, entry := range p.byID {
		if entry.AddedAt.Before(cutoff) {
			toRemove = append(toRemove, id)
		}
	}
	for _, id := range toRemove {
		p.removeLocked(id)
	}
	return len(toRemove)
}

func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byID)
}

func (p *Pool) SizeBytes() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalSize
}

type poolPriorityQueue []*PoolEntry

func (q poolPriorityQueue) Len() int { return len(q) }
func (q poolPriorityQueue) Less(i, j int) bool {
	return priorityLess(q[j], q[i]) // max-heap: higher priority first
}
func (q poolPriorityQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *poolPriorityQueue) Push(x interface{}) {
	entry := x.(*PoolEntry)
	entry.index = len(*q)
	*q = append(*q, entry)
}
func (q *poolPriorityQueue) Pop() interface{} {
	old := *q
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*q = old[:n-1]
	return entry
}
