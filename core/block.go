package core

import "errors"

// Block header and body types, grounded on original_source's
// CryptoNoteCore/CryptoNoteBasic.h (BlockHeader/Block) and the teacher's
// block.go (which modeled a single-header/merkle-root scheme for a
// Pedersen-commitment chain; this keeps the teacher's "header separate from
// body, body holds full transactions" shape and fills in CryptoNote's
// two-stage hash: base transaction tree root, then header+root+nonce).

var ErrOrphanBlock = errors.New("core: orphan block")

// BlockHeader is every field needed to compute the block's proof-of-work
// hashing blob and its final id, per §3.
type BlockHeader struct {
	MajorVersion uint8
	MinorVersion uint8
	Timestamp    uint64
	PrevID       Hash
	Nonce        uint32
}

// Block couples a header with a miner (base) transaction and the ids of the
// ordinary transactions included by reference; the transactions themselves
// travel separately in the pool/storage layer and are looked up by id.
type Block struct {
	BlockHeader
	BaseTransaction  Transaction
	TransactionHashes []Hash
}

func (h *BlockHeader) serializeInto(w *Writer) {
	w.PutByte(h.MajorVersion)
	w.PutByte(h.MinorVersion)
	w.PutVarint(h.Timestamp)
	w.PutHash(h.PrevID)
	w.PutUint32LE(h.Nonce)
}

func (h *BlockHeader) deserializeFrom(r *Reader) error {
	var err error
	h.MajorVersion, err = r.GetByte()
	if err != nil {
		return err
	}
	h.MinorVersion, err = r.GetByte()
	if err != nil {
		return err
	}
	h.Timestamp, err = r.GetVarint()
	if err != nil {
		return err
	}
	h.PrevID, err = r.GetHash()
	if err != nil {
		return err
	}
	h.Nonce, err = r.GetUint32LE()
	return err
}

// Serialize encodes the full block: header, base transaction, and the
// list of included transaction ids in the order the block holds them.
func (b *Block) Serialize() ([]byte, error) {
	w := NewWriter()
	b.BlockHeader.serializeInto(w)
	baseTxBytes, err := b.BaseTransaction.Serialize()
	if err != nil {
		return nil, err
	}
	w.PutBytes(baseTxBytes)
	w.PutVarint(uint64(len(b.TransactionHashes)))
	for _, h := range b.TransactionHashes {
		w.PutHash(h)
	}
	return w.Bytes(), nil
}

// DeserializeBlock parses a full block and requires full consumption.
func DeserializeBlock(data []byte) (Block, error) {
	var b Block
	r := NewReader(data)
	if err := b.BlockHeader.deserializeFrom(r); err != nil {
		return b, err
	}
	baseTxBytes, err := r.GetBytes()
	if err != nil {
		return b, err
	}
	baseTx, err := DeserializeTransaction(baseTxBytes)
	if err != nil {
		return b, err
	}
	b.BaseTransaction = baseTx
	n, err := r.GetVarint()
	if err != nil {
		return b, err
	}
	b.TransactionHashes = make([]Hash, n)
	for i := range b.TransactionHashes {
		b.TransactionHashes[i], err = r.GetHash()
		if err != nil {
			return b, err
		}
	}
	return b, DecodeFull(r)
}

// hashingBlob builds the proof-of-work input: the header fields, a merkle
// tree root over {base tx id, transaction ids}, and the transaction count,
// per CryptoNoteFormatUtils.cpp getBlockHashingBlob.
func (b *Block) hashingBlob(crypto CryptoProvider) ([]byte, error) {
	baseTxID, err := b.BaseTransaction.Hash(crypto)
	if err != nil {
		return nil, err
	}
	leaves := make([]Hash, 0, len(b.TransactionHashes)+1)
	leaves = append(leaves, baseTxID)
	leaves = append(leaves, b.TransactionHashes...)
	root := merkleRoot(crypto, leaves)

	w := NewWriter()
	b.BlockHeader.serializeInto(w)
	w.PutHash(root)
	w.PutVarint(uint64(len(leaves)))
	return w.Bytes(), nil
}

// ID returns the block hash used as a block identifier: the fast hash of
// the hashing blob, matching the reference's get_block_hash.
func (b *Block) ID(crypto CryptoProvider) (Hash, error) {
	blob, err := b.hashingBlob(crypto)
	if err != nil {
		return Hash{}, err
	}
	return crypto.FastHash(blob), nil
}

// LongHash returns the blob that a proof-of-work hashing function (e.g. a
// CryptoNight-family variant, not implemented here) would consume; kept
// distinct from ID so a future PoW swap-in has a stable hook.
func (b *Block) LongHash(crypto CryptoProvider) ([]byte, error) {
	return b.hashingBlob(crypto)
}

// merkleRoot folds the leaves pairwise, level by level, up to a single
// root; on a level with an odd count the last hash carries forward to the
// next level unchanged. A single leaf is its own root; zero leaves hashes
// the empty string.
func merkleRoot(crypto CryptoProvider, leaves []Hash) Hash {
	if len(leaves) == 0 {
		return crypto.FastHash(nil)
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	level := append([]Hash{}, leaves...)
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		i := 0
		for ; i+1 < len(level); i += 2 {
			next = append(next, hashPair(crypto, level[i], level[i+1]))
		}
		if i < len(level) {
			next = append(next, level[i])
		}
		level = next
	}
	return level[0]
}

func hashPair(crypto CryptoProvider, a, b Hash) Hash {
	buf := make([]byte, 64)
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return crypto.FastHash(buf)
}

// BlockEntry is the persisted envelope storage keeps for each block: the
// block itself plus metadata the engine needs without re-deriving it on
// every lookup (§4.2 block index fields).
type BlockEntry struct {
	Block                 Block
	Height                uint32
	CumulativeDifficulty  Difficulty
	CumulativeSize        uint64 // this block's own serialized size, base tx + included txs
	SizeMedian            uint64 // block-size median in effect when this block's reward was computed
	AlreadyGeneratedCoins uint64
	AlreadyGeneratedTxs   uint64
	Timestamp             uint64
}

// BlockFutureTimeLimit bounds how far a block's timestamp may sit ahead of
// local wall-clock time before validation rejects it (§4.3 step 2).
const BlockFutureTimeLimit = 60 * 60 * 2
