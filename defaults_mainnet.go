package main

// Mainnet defaults. The chain database's filename is owned by
// core.DefaultChainDBFilename, scoped under whichever DataDir is
// configured here, rather than duplicated at this layer.
const (
	DefaultDataDir        = "./cnnode-data-mainnet"
	DefaultWalletFilename = "cnnode-mainnet.wallet.dat"
)

