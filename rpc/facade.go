// Package rpc defines the read/write contract external wallets and block
// explorers consume. Per the out-of-scope note ("the JSON-RPC/HTTP surface
// and its request/response schemas... specified here by their abstract
// contracts"), only the Go interface is defined here — no HTTP server, no
// wire schema. A concrete implementation wires Facade onto daemon state and
// an encoding of the caller's choice.
package rpc

import "github.com/syfer-network/cnnode/core"

// PoolDelta is the result of a getPoolState-style query: whether the
// caller's view is already up to date, plus the new and removed
// transactions that bring it current.
type PoolDelta struct {
	IsActual bool
	NewTxs   []core.PoolEntry
	Removed  []core.Hash
}

// ChainInfo answers the height/difficulty/info portion of the external
// contract in one call.
type ChainInfo struct {
	Height               uint32
	Tip                  core.Hash
	CumulativeDifficulty core.Difficulty
	NextDifficulty       core.Difficulty
}

// Facade is the thin read/write surface §6 describes: a JSON-RPC
// implementation would marshal each method's arguments/results and nothing
// more — all validation and state ownership stays in core.
type Facade interface {
	GetInfo() ChainInfo
	GetBlockByHeight(height uint32) (*core.BlockEntry, bool)
	GetBlockByHash(id core.Hash) (*core.BlockEntry, bool)
	GetTransaction(id core.Hash) (core.Transaction, bool)
	GetPoolState(knownHashes []core.Hash, knownTop core.Hash) PoolDelta
	SendTransaction(blob []byte) error
	GetRandomOutputsForAmounts(amounts []uint64, count int) (map[uint64][]core.RingMember, error)
}
