// Package params centralizes protocol- and consensus-level constants shared
// by the currency rules, blockchain engine, pool, and P2P layers. Keeping
// them here (instance-data lives in core.Params, plain constants here)
// avoids scattering magic numbers across packages that must agree on them.
package params

// NetworkID distinguishes mainnet peers from any other network during the
// P2P handshake (the handshake payload's "network_id" field).
const NetworkID uint64 = 0x3119_434e_4e4f_4445

// AddressPrefix is the Base58 address prefix (CRYPTONOTE_PUBLIC_ADDRESS_BASE58_PREFIX).
const AddressPrefix uint64 = 0x3119

// GenesisTimestamp, GenesisNonce and GenesisCoinbaseHex are compiled-in and
// must reproduce GenesisHashHex when hashed through the block header rules.
const (
	GenesisTimestamp   = 1673183142
	GenesisNonce       = 7000
	GenesisCoinbaseHex = "010a01ff0001c096b102029b2e4c0281c0b02e7c53291a94d1d0cbff8883f8024f5142ee494ffbbd08807121017d6775185749e95ac2d70cae3f29e0e46f430ab648abbe9fdc61d8e7437c60f8"
)

// GenesisHashHex is the expected hash of the genesis block; the blockchain
// engine refuses to start if the reconstructed genesis hash disagrees.
const GenesisHashHex = "6b15db6b4d419de4d9df06f9e14e0a8548cf058dc8594794ac1141cc615f3bd"

// Block major versions gate validation rules, PoW algorithm, difficulty
// algorithm, deposit schedule, and minimum ring size.
const (
	BlockMajorV1 = 1
	BlockMajorV2 = 2
	BlockMajorV3 = 3
	BlockMajorV4 = 4 // LWMA3
	BlockMajorV7 = 7
	BlockMajorV8 = 8 // LWMA1
	BlockMajorV9 = 9
)

const (
	TransactionVersion1 = 1
	TransactionVersion2 = 2
)

// MaxBlockNumber draws the line between "unlock_time is a height" and
// "unlock_time is a unix timestamp".
const MaxBlockNumber = 500_000_000
