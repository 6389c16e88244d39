package params

import "time"

// Levin transport framing (see protocol/levin.go for the wire header layout).
const (
	LevinSignature   uint64 = 0x0101010101012101
	PacketMaxSize           = 50_000_000
	P2PCurrentVersion uint32 = 1
	P2PMinimumVersion uint32 = 1
	// P2PLiteBlockVersion is the minimum peer protocol version that supports
	// NewLiteBlock propagation with MissingTxs recovery.
	P2PLiteBlockVersion uint32 = 3
)

// Peer list sizing and connection-maker tuning.
const (
	WhitePeerlistLimit          = 1000
	GrayPeerlistLimit           = 5000
	AnchorPeerlistLimit         = 2
	ConnectionsCount            = 8
	WhitelistConnectionsPercent = 70 // percent, biases connection maker toward white list

	BlocksSynchronizingDefaultCount = 128
	BlocksIDsSynchronizingDefault   = 10000
)

// Timeouts (§5 Concurrency & Resource Model).
const (
	ConnectionTimeout     = 5 * time.Second
	HandshakeTimeout      = 3 * ConnectionTimeout
	InvokeTimeout         = 2 * time.Minute
	WriteMonitorInterval  = 10 * time.Second
	IdleTickInterval      = 1 * time.Second
	TimedSyncTickInterval = 60 * time.Second
	P2PConnectionMaxWriteBufferSize = 64 * 1024 * 1024
)

// Command IDs (Levin command-id space).
const (
	CmdHandshake uint32 = 1001
	CmdTimedSync uint32 = 1002
	CmdPing      uint32 = 1003

	CmdNewBlock             uint32 = 2001
	CmdNewTransactions      uint32 = 2002
	CmdRequestGetObjects    uint32 = 2003
	CmdResponseGetObjects   uint32 = 2004
	CmdRequestChain         uint32 = 2006
	CmdResponseChainEntry   uint32 = 2007
	CmdRequestTxPool        uint32 = 2008
	CmdNewLiteBlock         uint32 = 2009
	CmdMissingTxs           uint32 = 2010
)
