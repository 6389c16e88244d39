package core

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// Storage persists the append-only block log and every consensus-critical
// index in a single bbolt database, grounded on the teacher's storage.go
// (same bucket-per-index shape, same atomic update-transaction idiom) and
// adapted from a UTXO/output-by-outpoint model to CryptoNote's
// global-output-index model (§4.2): outputs are indexed by amount, not by
// outpoint, because ring member selection draws decoys from "other outputs
// of this amount", not from an arbitrary output pool.
var (
	bucketBlocks         = []byte("blocks")          // block hash -> JSON storedBlock
	bucketTransactions   = []byte("transactions")     // tx hash -> tx bytes
	bucketHeights        = []byte("heights")          // height (big-endian) -> block hash
	bucketOutputsByAmount = []byte("outputs_by_amount") // amount(8)+globalIndex(8) -> JSON storedOutput
	bucketMultisigOutputs = []byte("multisig_outputs")  // amount(8)+term(4)+globalIndex(8) -> MultisignatureOutput bytes
	bucketKeyImages      = []byte("key_images")       // key image -> height spent
	bucketPaymentIDs     = []byte("payment_ids")      // payment id (32) + tx hash -> empty
	bucketMeta           = []byte("meta")             // tip/height/work metadata

	metaKeyTip              = []byte("tip")
	metaKeyHeight            = []byte("height")
	metaKeyCumulativeDiff   = []byte("cumulative_difficulty")
	metaKeyAlreadyGenerated = []byte("already_generated_coins")
)

type Storage struct {
	db *bolt.DB
}

func heightKey(height uint32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, height)
	return key
}

func amountIndexKey(amount uint64, globalIndex uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], amount)
	binary.BigEndian.PutUint64(key[8:], globalIndex)
	return key
}

func multisigKey(amount uint64, term uint32, globalIndex uint64) []byte {
	key := make([]byte, 20)
	binary.BigEndian.PutUint64(key[:8], amount)
	binary.BigEndian.PutUint32(key[8:12], term)
	binary.BigEndian.PutUint64(key[12:], globalIndex)
	return key
}

// DefaultChainDBFilename names the bbolt file within a node's data directory.
const DefaultChainDBFilename = "chain.db"

func NewStorage(dataDir string) (*Storage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("core: create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultChainDBFilename)
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{NoSync: false})
	if err != nil {
		return nil, fmt.Errorf("core: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{
			bucketBlocks, bucketTransactions, bucketHeights,
			bucketOutputsByAmount, bucketMultisigOutputs, bucketKeyImages,
			bucketPaymentIDs, bucketMeta,
		} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("core: create buckets: %w (close also failed: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("core: create buckets: %w", err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error { return s.db.Close() }

// storedBlock is the JSON envelope persisted per block id, carrying the
// indexing metadata a BlockEntry needs alongside the block itself (the
// block is JSON-encoded with the rest of the envelope, not in wire format).
type storedBlock struct {
	Block                 Block
	Height                uint32
	CumulativeDifficulty  Difficulty
	CumulativeSize        uint64
	SizeMedian            uint64
	AlreadyGeneratedCoins uint64
	AlreadyGeneratedTxs   uint64
}

func (s *Storage) GetBlock(id Hash) (*BlockEntry, error) {
	var entry *BlockEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBlocks).Get(id[:])
		if data == nil {
			return nil
		}
		var sb storedBlock
		if err := json.Unmarshal(data, &sb); err != nil {
			return err
		}
		entry = &BlockEntry{
			Block:                 sb.Block,
			Height:                sb.Height,
			CumulativeDifficulty:  sb.CumulativeDifficulty,
			CumulativeSize:        sb.CumulativeSize,
			SizeMedian:            sb.SizeMedian,
			AlreadyGeneratedCoins: sb.AlreadyGeneratedCoins,
			AlreadyGeneratedTxs:   sb.AlreadyGeneratedTxs,
			Timestamp:             sb.Block.Timestamp,
		}
		return nil
	})
	return entry, err
}

func (s *Storage) HasBlock(id Hash) bool {
	var exists bool
	if err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketBlocks).Get(id[:]) != nil
		return nil
	}); err != nil {
		log.Printf("core: storage HasBlock failed: %v", err)
		return false
	}
	return exists
}

func (s *Storage) GetBlockHashByHeight(height uint32) (Hash, bool) {
	var hash Hash
	var found bool
	if err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketHeights).Get(heightKey(height))
		if data != nil {
			copy(hash[:], data)
			found = true
		}
		return nil
	}); err != nil {
		log.Printf("core: storage GetBlockHashByHeight failed: %v", err)
		return Hash{}, false
	}
	return hash, found
}

func (s *Storage) GetTransaction(id Hash) (*Transaction, error) {
	var tx *Transaction
	err := s.db.View(func(btx *bolt.Tx) error {
		data := btx.Bucket(bucketTransactions).Get(id[:])
		if data == nil {
			return nil
		}
		decoded, err := DeserializeTransaction(data)
		if err != nil {
			return err
		}
		tx = &decoded
		return nil
	})
	return tx, err
}

func (s *Storage) HasTransaction(id Hash) bool {
	var exists bool
	if err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketTransactions).Get(id[:]) != nil
		return nil
	}); err != nil {
		return false
	}
	return exists
}

func (s *Storage) IsKeyImageSpent(ki KeyImage) bool {
	var spent bool
	if err := s.db.View(func(tx *bolt.Tx) error {
		spent = tx.Bucket(bucketKeyImages).Get(ki[:]) != nil
		return nil
	}); err != nil {
		log.Printf("core: storage IsKeyImageSpent failed: %v", err)
		return false
	}
	return spent
}

// storedOutput is the amount-indexed bucket's value envelope: the output
// key plus the unlock_time and creating height of the transaction that
// produced it, needed by the blockchain engine's per-ring-member unlock
// check (§3 invariant, §4.3 step 6) without a second lookup into the
// owning transaction.
type storedOutput struct {
	Output        KeyOutput
	UnlockTime    uint64
	CreatingHeight uint32
}

// OutputsOfAmount returns up to limit global output keys of the given
// amount, used by ring member selection to draw same-amount decoys (§4.4).
func (s *Storage) OutputsOfAmount(amount uint64, limit int) ([]KeyOutput, error) {
	var outputs []KeyOutput
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOutputsByAmount).Cursor()
		prefix := make([]byte, 8)
		binary.BigEndian.PutUint64(prefix, amount)
		for k, v := c.Seek(prefix); k != nil && len(k) >= 8 && binary.BigEndian.Uint64(k[:8]) == amount; k, v = c.Next() {
			var so storedOutput
			if err := json.Unmarshal(v, &so); err != nil {
				return err
			}
			outputs = append(outputs, so.Output)
			if limit > 0 && len(outputs) >= limit {
				break
			}
		}
		return nil
	})
	return outputs, err
}

// ErrOutputNotFound is returned by GetOutputByGlobalIndex when no key
// output exists at the requested amount/index pair.
var ErrOutputNotFound = fmt.Errorf("core: output not found")

// RingMember is a resolved ring member: its spendable output key plus
// enough context for the unlock-time check in §4.3 step 6.
type RingMember struct {
	Output         KeyOutput
	UnlockTime     uint64
	CreatingHeight uint32
}

// GetOutputByGlobalIndex fetches a single ring member by amount and global
// index, used by the blockchain engine to resolve the pubkeys a KeyInput's
// ring signature was produced against.
func (s *Storage) GetOutputByGlobalIndex(amount uint64, globalIndex uint64) (RingMember, error) {
	var so storedOutput
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketOutputsByAmount).Get(amountIndexKey(amount, globalIndex))
		if data == nil {
			return ErrOutputNotFound
		}
		return json.Unmarshal(data, &so)
	})
	return RingMember{Output: so.Output, UnlockTime: so.UnlockTime, CreatingHeight: so.CreatingHeight}, err
}

func (s *Storage) GetTip() (hash Hash, height uint32, cumulativeDiff Difficulty, found bool) {
	if err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if data := meta.Get(metaKeyTip); data != nil {
			copy(hash[:], data)
			found = true
		}
		if data := meta.Get(metaKeyHeight); len(data) == 4 {
			height = binary.BigEndian.Uint32(data)
		}
		if data := meta.Get(metaKeyCumulativeDiff); len(data) == 8 {
			cumulativeDiff = binary.BigEndian.Uint64(data)
		}
		return nil
	}); err != nil {
		log.Printf("core: storage GetTip failed: %v", err)
		return Hash{}, 0, 0, false
	}
	return
}

// BlockCommit is everything CommitBlock needs to atomically extend the main
// chain by one block: the block, its derived index metadata, and the
// per-transaction effects (new outputs, spent key images, payment ids).
type BlockCommit struct {
	Block                 Block
	Height                uint32
	ID                    Hash
	CumulativeDifficulty  Difficulty
	CumulativeSize        uint64
	SizeMedian            uint64
	AlreadyGeneratedCoins uint64
	AlreadyGeneratedTxs   uint64
	Transactions          []struct {
		ID Hash
		Tx Transaction
	}
	NewKeyOutputs []struct {
		GlobalIndex    uint64
		Amount         uint64
		Output         KeyOutput
		UnlockTime     uint64
		CreatingHeight uint32
	}
	NewMultisigOutputs []struct {
		GlobalIndex uint64
		Amount      uint64
		Term        uint32
		Output      MultisignatureOutput
	}
	SpentKeyImages []KeyImage
	PaymentIDs     []struct {
		PaymentID []byte
		TxHash    Hash
	}
}

func (s *Storage) CommitBlock(commit *BlockCommit) error {
	if commit == nil {
		return fmt.Errorf("core: nil block commit")
	}

	sb := storedBlock{
		Block:                 commit.Block,
		Height:                commit.Height,
		CumulativeDifficulty:  commit.CumulativeDifficulty,
		CumulativeSize:        commit.CumulativeSize,
		SizeMedian:            commit.SizeMedian,
		AlreadyGeneratedCoins: commit.AlreadyGeneratedCoins,
		AlreadyGeneratedTxs:   commit.AlreadyGeneratedTxs,
	}
	blockData, err := json.Marshal(sb)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		txs := tx.Bucket(bucketTransactions)
		heights := tx.Bucket(bucketHeights)
		outsByAmount := tx.Bucket(bucketOutputsByAmount)
		multisig := tx.Bucket(bucketMultisigOutputs)
		keyImages := tx.Bucket(bucketKeyImages)
		paymentIDs := tx.Bucket(bucketPaymentIDs)
		meta := tx.Bucket(bucketMeta)

		if commit.Height > 0 {
			if blocks.Get(commit.Block.PrevID[:]) == nil {
				return fmt.Errorf("core: commit block parent %s missing", commit.Block.PrevID)
			}
		}

		if err := blocks.Put(commit.ID[:], blockData); err != nil {
			return err
		}
		if err := heights.Put(heightKey(commit.Height), commit.ID[:]); err != nil {
			return err
		}

		for _, entry := range commit.Transactions {
			raw, err := entry.Tx.Serialize()
			if err != nil {
				return err
			}
			if err := txs.Put(entry.ID[:], raw); err != nil {
				return err
			}
		}

		for _, out := range commit.NewKeyOutputs {
			data, err := json.Marshal(storedOutput{Output: out.Output, UnlockTime: out.UnlockTime, CreatingHeight: out.CreatingHeight})
			if err != nil {
				return err
			}
			if err := outsByAmount.Put(amountIndexKey(out.Amount, out.GlobalIndex), data); err != nil {
				return err
			}
		}
		for _, out := range commit.NewMultisigOutputs {
			data, err := json.Marshal(out.Output)
			if err != nil {
				return err
			}
			if err := multisig.Put(multisigKey(out.Amount, out.Term, out.GlobalIndex), data); err != nil {
				return err
			}
		}
		for _, ki := range commit.SpentKeyImages {
			if err := keyImages.Put(ki[:], heightKey(commit.Height)); err != nil {
				return err
			}
		}
		for _, p := range commit.PaymentIDs {
			key := append(append([]byte{}, p.PaymentID...), p.TxHash[:]...)
			if err := paymentIDs.Put(key, nil); err != nil {
				return err
			}
		}

		cumDiffBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(cumDiffBytes, commit.CumulativeDifficulty)
		if err := meta.Put(metaKeyTip, commit.ID[:]); err != nil {
			return err
		}
		if err := meta.Put(metaKeyHeight, heightKey(commit.Height)); err != nil {
			return err
		}
		if err := meta.Put(metaKeyCumulativeDiff, cumDiffBytes); err != nil {
			return err
		}
		genBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(genBytes, commit.AlreadyGeneratedCoins)
		return meta.Put(metaKeyAlreadyGenerated, genBytes)
	})
}

// PutTransaction stores a transaction independently of block commit, used
// when accepting it into the pool before it is included in any block.
func (s *Storage) PutTransaction(id Hash, t *Transaction) error {
	data, err := t.Serialize()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTransactions).Put(id[:], data)
	})
}

// RemoveMainChainBlock deletes the height->hash mapping only; the block and
// transaction bodies remain available for alt-chain bookkeeping during a
// reorg, matching the teacher's "never delete blocks, just re-point the
// main chain index" approach.
func (s *Storage) RemoveMainChainBlock(height uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHeights).Delete(heightKey(height))
	})
}

func (s *Storage) UnmarkKeyImageSpent(ki KeyImage) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeyImages).Delete(ki[:])
	})
}

// MarkKeyImageSpent is UnmarkKeyImageSpent's inverse, used to re-spend a key
// image when a reorg attempt is rolled back after a disconnect.
func (s *Storage) MarkKeyImageSpent(ki KeyImage, height uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeyImages).Put(ki[:], heightKey(height))
	})
}

// RestoreMainChainBlock is RemoveMainChainBlock's inverse: re-points the
// height index at a previously disconnected block.
func (s *Storage) RestoreMainChainBlock(height uint32, id Hash) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHeights).Put(heightKey(height), id[:])
	})
}

// DeleteOutput removes a single global-index output entry, used when a
// reorg disconnects the block that created it (§8 reorg conservation: a
// disconnected output must stop being offered as a ring decoy).
func (s *Storage) DeleteOutput(amount, globalIndex uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutputsByAmount).Delete(amountIndexKey(amount, globalIndex))
	})
}

// RestoreOutput is DeleteOutput's inverse, used to put a disconnected
// block's outputs back if the reorg that disconnected it is rolled back.
func (s *Storage) RestoreOutput(amount, globalIndex uint64, output KeyOutput, unlockTime uint64, creatingHeight uint32) error {
	data, err := json.Marshal(storedOutput{Output: output, UnlockTime: unlockTime, CreatingHeight: creatingHeight})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutputsByAmount).Put(amountIndexKey(amount, globalIndex), data)
	})
}

// DeleteMultisigOutput is DeleteOutput's multisig-bucket counterpart.
func (s *Storage) DeleteMultisigOutput(amount uint64, term uint32, globalIndex uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMultisigOutputs).Delete(multisigKey(amount, term, globalIndex))
	})
}

// RestoreMultisigOutput is DeleteMultisigOutput's inverse.
func (s *Storage) RestoreMultisigOutput(amount uint64, term uint32, globalIndex uint64, output MultisignatureOutput) error {
	data, err := json.Marshal(output)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMultisigOutputs).Put(multisigKey(amount, term, globalIndex), data)
	})
}
