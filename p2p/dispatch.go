package p2p

import (
	"fmt"

	"github.com/syfer-network/cnnode/core"
	"github.com/syfer-network/cnnode/protocol"
	"github.com/syfer-network/cnnode/protocol/params"
)

// handleCommand dispatches one notify/invoke-request frame received on c to
// the appropriate handler. Responses to invokes are intercepted in
// Connection.readLoop before reaching here; everything that arrives here is
// either a notify (relay, announce) or an invoke request needing a reply.
func (n *Node) handleCommand(c *Connection, command uint32, payload []byte) error {
	switch command {
	case protocol.CmdPing:
		resp := protocol.EncodePingResponse(protocol.PingResponse{Status: "OK", PeerID: n.peerID.Get()})
		c.respond(protocol.CmdPing, resp)
		return nil

	case protocol.CmdTimedSync:
		ts, err := protocol.DecodeTimedSync(payload)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.peerHeight = ts.ChainInfo.CurrentHeight
		c.peerTopID = ts.ChainInfo.TopID
		c.peerCumDiff = ts.ChainInfo.CumulativeDifficulty
		c.mu.Unlock()
		n.peers.Touch(c.addr)
		if ts.ChainInfo.CurrentHeight > n.chain.Height() {
			c.setState(stateSynchronizing)
			go n.catchUpFrom(c)
		}
		return nil

	case protocol.CmdNewBlock:
		return n.handleNewBlock(c, payload)

	case protocol.CmdNewLiteBlock:
		return n.handleNewLiteBlock(c, payload)

	case protocol.CmdMissingTxs:
		return n.handleMissingTxs(c, payload)

	case protocol.CmdNewTransactions:
		return n.handleNewTransactions(c, payload)

	case protocol.CmdRequestGetObjects:
		return n.handleRequestGetObjects(c, payload)

	case protocol.CmdRequestChain:
		return n.handleRequestChain(c, payload)

	case protocol.CmdRequestTxPool:
		return n.handleRequestTxPool(c, payload)

	default:
		return fmt.Errorf("p2p: unknown command %d", command)
	}
}

func (n *Node) handleNewBlock(c *Connection, payload []byte) error {
	nb, err := protocol.DecodeNewBlock(payload)
	if err != nil {
		return err
	}
	block, err := core.DeserializeBlock(nb.Block)
	if err != nil {
		return err
	}
	txs := make(map[core.Hash]core.Transaction, len(nb.Txs))
	for _, raw := range nb.Txs {
		tx, err := core.DeserializeTransaction(raw)
		if err != nil {
			return err
		}
		id, err := tx.Hash(n.crypto)
		if err == nil {
			txs[id] = tx
		}
	}
	return n.deliverBlock(c, block, nb.Block, txs)
}

func (n *Node) handleNewLiteBlock(c *Connection, payload []byte) error {
	nlb, err := protocol.DecodeNewLiteBlock(payload)
	if err != nil {
		return err
	}
	block, err := core.DeserializeBlock(nlb.Block)
	if err != nil {
		return err
	}
	txs := make(map[core.Hash]core.Transaction, len(block.TransactionHashes))
	var missing []core.Hash
	for _, h := range block.TransactionHashes {
		if tx, ok := n.pool.GetTransaction(h); ok {
			txs[h] = tx
			continue
		}
		missing = append(missing, h)
	}
	if len(missing) == 0 {
		return n.deliverBlock(c, block, nlb.Block, txs)
	}

	id, err := block.ID(n.crypto)
	if err != nil {
		return err
	}
	resp, err := c.invoke(protocol.CmdMissingTxs, protocol.EncodeMissingTxs(protocol.MissingTxsPayload{BlockID: id, Missing: missing}))
	if err != nil {
		return err
	}
	mt, err := protocol.DecodeMissingTxs(resp)
	if err != nil {
		return err
	}
	for _, raw := range mt.Txs {
		tx, err := core.DeserializeTransaction(raw)
		if err != nil {
			continue
		}
		txID, err := tx.Hash(n.crypto)
		if err == nil {
			txs[txID] = tx
		}
	}
	return n.deliverBlock(c, block, nlb.Block, txs)
}

// handleMissingTxs answers a peer's MissingTxs request for a lite block we
// sent it, replying with the raw bodies we hold in our own pool.
func (n *Node) handleMissingTxs(c *Connection, payload []byte) error {
	mt, err := protocol.DecodeMissingTxs(payload)
	if err != nil {
		return err
	}
	bodies := make([][]byte, 0, len(mt.Missing))
	for _, h := range mt.Missing {
		tx, ok := n.pool.GetTransaction(h)
		if !ok {
			continue
		}
		raw, err := tx.Serialize()
		if err != nil {
			continue
		}
		bodies = append(bodies, raw)
	}
	c.respond(protocol.CmdMissingTxs, protocol.EncodeMissingTxs(protocol.MissingTxsPayload{BlockID: mt.BlockID, Txs: bodies}))
	return nil
}

func (n *Node) deliverBlock(c *Connection, block core.Block, raw []byte, txs map[core.Hash]core.Transaction) error {
	id, err := block.ID(n.crypto)
	if err != nil {
		return err
	}
	n.recordOrigin(id, c.addr)

	n.mu.RLock()
	handler := n.onBlock
	n.mu.RUnlock()
	if handler == nil {
		return nil
	}
	if err := handler(block, txs); err != nil {
		n.peers.Penalize(c.addr, ScorePenaltyInvalid, "rejected block: "+err.Error())
		return nil
	}
	n.peers.Reward(c.addr)
	if c.getState() == stateSynchronizing && block.PrevID == n.chain.Tip() {
		c.setState(stateNormal)
	}
	return nil
}

func (n *Node) handleNewTransactions(c *Connection, payload []byte) error {
	nt, err := protocol.DecodeNewTransactions(payload)
	if err != nil {
		return err
	}
	n.mu.RLock()
	handler := n.onTx
	n.mu.RUnlock()
	if handler == nil {
		return nil
	}
	for _, raw := range nt.Txs {
		tx, err := core.DeserializeTransaction(raw)
		if err != nil {
			n.peers.Penalize(c.addr, ScorePenaltyInvalid, "malformed tx")
			continue
		}
		id, err := tx.Hash(n.crypto)
		if err != nil {
			continue
		}
		n.recordOrigin(id, c.addr)
		if err := handler(tx, raw, nt.KeptByBlock); err != nil {
			n.peers.Penalize(c.addr, ScorePenaltyInvalid, "rejected tx: "+err.Error())
			continue
		}
		n.peers.Reward(c.addr)
	}
	return nil
}

// handleRequestGetObjects answers a catch-up or missing-tx request by id,
// returning raw block/tx bodies plus whichever ids we could not resolve.
func (n *Node) handleRequestGetObjects(c *Connection, payload []byte) error {
	req, err := protocol.DecodeRequestGetObjects(payload)
	if err != nil {
		return err
	}
	var blocks, bodies [][]byte
	var missed []core.Hash
	for _, id := range req.Blocks {
		entry, ok := n.chain.GetBlock(id)
		if !ok {
			missed = append(missed, id)
			continue
		}
		raw, err := entry.Block.Serialize()
		if err != nil {
			continue
		}
		blocks = append(blocks, raw)
	}
	for _, id := range req.Txs {
		tx, ok := n.pool.GetTransaction(id)
		if !ok {
			missed = append(missed, id)
			continue
		}
		raw, err := tx.Serialize()
		if err != nil {
			continue
		}
		bodies = append(bodies, raw)
	}
	c.respond(protocol.CmdResponseGetObjects, protocol.EncodeResponseGetObjects(protocol.ResponseGetObjectsPayload{
		Blocks: blocks, Txs: bodies, Missed: missed, ChainInfo: n.chainInfo(),
	}))
	return nil
}

// handleRequestChain answers a sparse chain locator with a run of block ids
// starting just after the locator's newest point we recognize.
func (n *Node) handleRequestChain(c *Connection, payload []byte) error {
	req, err := protocol.DecodeRequestChain(payload)
	if err != nil {
		return err
	}
	start := uint32(0)
	for _, id := range req.BlockIDs {
		entry, ok := n.chain.GetBlock(id)
		if ok && entry.Height+1 > start {
			start = entry.Height + 1
		}
	}
	const maxEntries = params.BlocksIDsSynchronizingDefault
	ids := make([]core.Hash, 0, maxEntries)
	for h := start; len(ids) < maxEntries; h++ {
		entry, ok := n.chain.GetBlockByHeight(h)
		if !ok {
			break
		}
		id, err := entry.Block.ID(n.crypto)
		if err != nil {
			break
		}
		ids = append(ids, id)
	}
	c.respond(protocol.CmdResponseChainEntry, protocol.EncodeResponseChainEntry(protocol.ResponseChainEntryPayload{
		StartHeight: start, TotalHeight: n.chain.Height(), BlockIDs: ids,
	}))
	return nil
}

// handleRequestTxPool answers with the set-difference of our pool's
// transaction ids against the requester's Have list.
func (n *Node) handleRequestTxPool(c *Connection, payload []byte) error {
	req, err := protocol.DecodeRequestTxPool(payload)
	if err != nil {
		return err
	}
	have := make(map[core.Hash]bool, len(req.Have))
	for _, h := range req.Have {
		have[h] = true
	}
	var bodies [][]byte
	for _, id := range n.pool.AllTransactionIDs() {
		if have[id] {
			continue
		}
		tx, ok := n.pool.GetTransaction(id)
		if !ok {
			continue
		}
		raw, err := tx.Serialize()
		if err != nil {
			continue
		}
		bodies = append(bodies, raw)
	}
	c.notify(protocol.CmdNewTransactions, protocol.EncodeNewTransactions(protocol.NewTransactionsPayload{Txs: bodies}))
	return nil
}

// catchUpFrom drives the synchronizing state: send our sparse chain
// locator, walk the returned block ids, fetch any we don't have via
// RequestGetObjects, and feed them through the block handler in order.
func (n *Node) catchUpFrom(c *Connection) {
	locator := n.chain.BuildSparseChainLocator()
	resp, err := c.invoke(protocol.CmdRequestChain, protocol.EncodeRequestChain(protocol.RequestChainPayload{BlockIDs: locator}))
	if err != nil {
		return
	}
	entry, err := protocol.DecodeResponseChainEntry(resp)
	if err != nil {
		return
	}

	var missing []core.Hash
	for _, id := range entry.BlockIDs {
		if _, ok := n.chain.GetBlock(id); !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		c.setState(stateNormal)
		return
	}

	objResp, err := c.invoke(protocol.CmdRequestGetObjects, protocol.EncodeRequestGetObjects(protocol.RequestGetObjectsPayload{Blocks: missing}))
	if err != nil {
		return
	}
	objs, err := protocol.DecodeResponseGetObjects(objResp)
	if err != nil {
		return
	}

	n.mu.RLock()
	handler := n.onBlock
	n.mu.RUnlock()
	if handler == nil {
		return
	}
	for _, raw := range objs.Blocks {
		block, err := core.DeserializeBlock(raw)
		if err != nil {
			continue
		}
		txs := make(map[core.Hash]core.Transaction, len(block.TransactionHashes))
		for _, h := range block.TransactionHashes {
			if tx, ok := n.pool.GetTransaction(h); ok {
				txs[h] = tx
			}
		}
		if err := handler(block, txs); err != nil {
			n.peers.Penalize(c.addr, ScorePenaltyInvalid, "rejected catch-up block: "+err.Error())
			return
		}
	}
	if n.chain.Height() >= c.peerHeight {
		c.setState(stateNormal)
	}
}
