package main

import (
	"encoding/hex"
	"fmt"

	"github.com/syfer-network/cnnode/core"
	"github.com/syfer-network/cnnode/protocol/params"
)

// genesisBlock reconstructs the compiled-in genesis block from the raw
// coinbase blob in protocol/params and checks it against the expected id,
// mirroring the teacher's main.go GetGenesisBlock (a single hardcoded block
// the daemon inserts on first run) generalized to CryptoNote's
// header+base-transaction shape instead of a bare header+commitment.
func genesisBlock(crypto core.CryptoProvider) (core.Block, error) {
	raw, err := hex.DecodeString(params.GenesisCoinbaseHex)
	if err != nil {
		return core.Block{}, fmt.Errorf("genesis: bad coinbase hex: %w", err)
	}
	base, err := core.DeserializeTransaction(raw)
	if err != nil {
		return core.Block{}, fmt.Errorf("genesis: bad coinbase transaction: %w", err)
	}

	block := core.Block{
		BlockHeader: core.BlockHeader{
			MajorVersion: params.BlockMajorV1,
			MinorVersion: 0,
			Timestamp:    params.GenesisTimestamp,
			PrevID:       core.Hash{},
			Nonce:        params.GenesisNonce,
		},
		BaseTransaction: base,
	}

	id, err := block.ID(crypto)
	if err != nil {
		return core.Block{}, fmt.Errorf("genesis: hash: %w", err)
	}
	expected, err := core.HashFromHex(params.GenesisHashHex)
	if err != nil {
		return core.Block{}, fmt.Errorf("genesis: bad expected hash constant: %w", err)
	}
	if id != expected {
		return core.Block{}, fmt.Errorf("genesis: reconstructed id %s does not match compiled-in %s", id, expected)
	}
	return block, nil
}
