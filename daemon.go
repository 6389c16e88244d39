package main

import (
	"context"
	"fmt"
	"log"

	"github.com/syfer-network/cnnode/core"
	"github.com/syfer-network/cnnode/p2p"
)

// Network is the minimal contract the daemon needs from a transport layer:
// start/stop, and best-effort broadcast of a block or transaction to
// connected peers. NewDaemon builds a real *p2p.Node against this
// interface when the caller doesn't supply one; kept as an interface
// rather than a concrete field so tests can substitute noopNetwork.
type Network interface {
	Start(ctx context.Context) error
	Stop() error
	BroadcastBlock(id core.Hash, raw []byte)
	BroadcastTx(id core.Hash, raw []byte)
	PeerCount() int
}

// noopNetwork keeps the daemon runnable standalone (validating and storing
// blocks fed to it by a caller, e.g. through the RPC facade's
// SendTransaction, without needing any peers) — useful for tests and for
// a caller that explicitly wants no P2P layer.
type noopNetwork struct{}

func (noopNetwork) Start(context.Context) error     { return nil }
func (noopNetwork) Stop() error                      { return nil }
func (noopNetwork) BroadcastBlock(core.Hash, []byte) {}
func (noopNetwork) BroadcastTx(core.Hash, []byte)    {}
func (noopNetwork) PeerCount() int                   { return 0 }

// Daemon wires the consensus engine, mempool, checkpoints and observer hub
// into a runnable node. Grounded on the teacher's Daemon (same
// chain+mempool+network composition and Start/Stop lifecycle), generalized
// from the teacher's own Chain/Mempool/Miner/libp2p-Node stack to
// core.Blockchain/core.Pool/core.Checkpoints/core.Observers plus the
// Network interface above; no Miner field exists here since mining search
// is out of scope.
type Daemon struct {
	chain       *core.Blockchain
	pool        *core.Pool
	checkpoints *core.Checkpoints
	observers   *core.Observers
	storage     *core.Storage
	crypto      core.CryptoProvider
	network     Network

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDaemon opens storage under cfg.DataDir, inserts the genesis block if
// the chain is empty, and wires the pool against the engine's key-image
// spend check.
func NewDaemon(cfg Config, network Network) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	storage, err := core.NewStorage(cfg.DataDir)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("daemon: open storage: %w", err)
	}

	crypto := core.NewDefaultCrypto()
	netParams := core.MainnetParams()
	netParams.Testnet = cfg.Testnet

	checkpoints, err := core.NewCheckpoints(nil)
	if err != nil {
		storage.Close()
		cancel()
		return nil, fmt.Errorf("daemon: checkpoints: %w", err)
	}

	observers := core.NewObservers()
	chain := core.NewBlockchain(storage, crypto, netParams, checkpoints, observers)

	if chain.Height() == 0 && chain.Tip().IsZero() {
		genesis, err := genesisBlock(crypto)
		if err != nil {
			storage.Close()
			cancel()
			return nil, fmt.Errorf("daemon: genesis: %w", err)
		}
		if err := chain.AddBlock(genesis, nil); err != nil {
			storage.Close()
			cancel()
			return nil, fmt.Errorf("daemon: add genesis: %w", err)
		}
	}

	pool := core.NewPool(core.DefaultPoolConfig(), netParams, chain.IsKeyImageSpent)
	chain.SetPool(pool)

	d := &Daemon{
		chain:       chain,
		pool:        pool,
		checkpoints: checkpoints,
		observers:   observers,
		storage:     storage,
		crypto:      crypto,
		ctx:         ctx,
		cancel:      cancel,
	}

	if network == nil {
		nodeCfg := p2p.DefaultNodeConfig()
		nodeCfg.ListenAddr = cfg.ListenAddr
		nodeCfg.SeedNodes = cfg.SeedNodes
		nodeCfg.DataDir = cfg.DataDir
		nodeCfg.NetworkID = networkIDFor(cfg.Testnet)
		node, err := p2p.NewNode(nodeCfg, crypto, chain, pool)
		if err != nil {
			storage.Close()
			cancel()
			return nil, fmt.Errorf("daemon: start p2p node: %w", err)
		}
		node.SetBlockHandler(d.SubmitBlock)
		node.SetTxHandler(d.onReceivedTx)
		network = node
	}
	d.network = network

	return d, nil
}

// networkIDFor picks the Levin protocol's network id so mainnet and
// testnet peers never accidentally dial each other.
func networkIDFor(testnet bool) uint64 {
	if testnet {
		return 2
	}
	return 1
}

// onReceivedTx is the p2p.TxHandler: pool a transaction a peer relayed,
// without re-serializing it the way SubmitTransaction does for a
// locally-submitted one (raw is already on hand from the wire).
func (d *Daemon) onReceivedTx(tx core.Transaction, raw []byte, keptByBlock bool) error {
	id, err := tx.Hash(d.crypto)
	if err != nil {
		return fmt.Errorf("daemon: hash relayed transaction: %w", err)
	}
	if keptByBlock {
		return nil
	}
	if err := d.pool.AddTransaction(tx, id, len(raw)); err != nil {
		return fmt.Errorf("daemon: pool rejected relayed transaction: %w", err)
	}
	if d.observers != nil {
		d.observers.PublishPoolChanged(core.PoolChangedEvent{ID: id, Added: true})
	}
	return nil
}

// Start begins the network transport and logs the daemon's starting state.
// There is no mining loop to start: mining search is out of scope.
func (d *Daemon) Start() error {
	if err := d.network.Start(d.ctx); err != nil {
		return fmt.Errorf("daemon: start network: %w", err)
	}
	log.Printf("daemon started: height=%d tip=%s peers=%d", d.chain.Height(), d.chain.Tip(), d.network.PeerCount())
	return nil
}

// Stop cancels background work, stops the network, and closes storage.
func (d *Daemon) Stop() error {
	d.cancel()
	if err := d.network.Stop(); err != nil {
		log.Printf("daemon: stop network: %v", err)
	}
	if err := d.storage.Close(); err != nil {
		return fmt.Errorf("daemon: close storage: %w", err)
	}
	log.Printf("daemon stopped")
	return nil
}

// SubmitTransaction validates and pools a transaction, then best-effort
// broadcasts it. This is the write half of the RPC facade's sendTransaction.
func (d *Daemon) SubmitTransaction(raw []byte) error {
	tx, err := core.DeserializeTransaction(raw)
	if err != nil {
		return fmt.Errorf("daemon: invalid transaction: %w", err)
	}
	id, err := tx.Hash(d.crypto)
	if err != nil {
		return fmt.Errorf("daemon: hash transaction: %w", err)
	}
	if err := d.pool.AddTransaction(tx, id, len(raw)); err != nil {
		return fmt.Errorf("daemon: pool rejected transaction: %w", err)
	}
	d.network.BroadcastTx(id, raw)
	if d.observers != nil {
		d.observers.PublishPoolChanged(core.PoolChangedEvent{ID: id, Added: true})
	}
	return nil
}

// SubmitBlock hands a block and its referenced transaction bodies to the
// consensus engine: if it extends the current tip it is applied directly,
// otherwise it is held as an alt-chain candidate and, per §4.3 step 9, may
// trigger a reorg onto it if its chain becomes heavier than the main chain.
func (d *Daemon) SubmitBlock(block core.Block, txs map[core.Hash]core.Transaction) error {
	if err := d.chain.AddBlock(block, txs); err == nil {
		return nil
	}
	return d.chain.ProcessAltBlock(block, txs)
}

// GetInfo satisfies the chain height/difficulty/info part of the RPC facade.
func (d *Daemon) GetInfo() (height uint32, tip core.Hash, cumulativeDifficulty core.Difficulty) {
	return d.chain.Height(), d.chain.Tip(), d.chain.CumulativeDifficulty()
}

func (d *Daemon) Chain() *core.Blockchain { return d.chain }
func (d *Daemon) Pool() *core.Pool        { return d.pool }

// DefaultSeedNodes are the bootstrap peers dialed when no seeds are
// configured. Addresses are host:port pairs for the Levin TCP transport,
// not the teacher's libp2p multiaddrs.
var DefaultSeedNodes []string

