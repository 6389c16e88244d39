package protocol

import (
	"github.com/syfer-network/cnnode/core"
	"github.com/syfer-network/cnnode/protocol/params"
)

// Command ids, re-exported from protocol/params for callers that only need
// the protocol package.
const (
	CmdHandshake          = params.CmdHandshake
	CmdTimedSync          = params.CmdTimedSync
	CmdPing               = params.CmdPing
	CmdNewBlock           = params.CmdNewBlock
	CmdNewTransactions    = params.CmdNewTransactions
	CmdRequestGetObjects  = params.CmdRequestGetObjects
	CmdResponseGetObjects = params.CmdResponseGetObjects
	CmdRequestChain       = params.CmdRequestChain
	CmdResponseChainEntry = params.CmdResponseChainEntry
	CmdRequestTxPool      = params.CmdRequestTxPool
	CmdNewLiteBlock       = params.CmdNewLiteBlock
	CmdMissingTxs         = params.CmdMissingTxs
)

// PeerChainInfo is the {current_height, top_id, cumulative_difficulty} trio
// carried by Handshake and TimedSync payloads, per spec's handshake contract.
type PeerChainInfo struct {
	CurrentHeight        uint32
	TopID                core.Hash
	CumulativeDifficulty core.Difficulty
}

func (c PeerChainInfo) encode(w *core.Writer) {
	w.PutUint32LE(c.CurrentHeight)
	w.PutHash(c.TopID)
	w.PutUint64LE(c.CumulativeDifficulty)
}

func decodeChainInfo(r *core.Reader) (PeerChainInfo, error) {
	var c PeerChainInfo
	var err error
	if c.CurrentHeight, err = r.GetUint32LE(); err != nil {
		return c, err
	}
	if c.TopID, err = r.GetHash(); err != nil {
		return c, err
	}
	c.CumulativeDifficulty, err = r.GetUint64LE()
	return c, err
}

// PeerIdentity is the {peer_id, my_port, network_id, version, local_time}
// quintuple exchanged in a Handshake, before either side's chain info.
type PeerIdentity struct {
	Version   uint32
	NetworkID uint64
	PeerID    uint64
	MyPort    uint32
	LocalTime uint64
}

func (p PeerIdentity) encode(w *core.Writer) {
	w.PutUint32LE(p.Version)
	w.PutUint64LE(p.NetworkID)
	w.PutUint64LE(p.PeerID)
	w.PutUint32LE(p.MyPort)
	w.PutUint64LE(p.LocalTime)
}

func decodeIdentity(r *core.Reader) (PeerIdentity, error) {
	var p PeerIdentity
	var err error
	if p.Version, err = r.GetUint32LE(); err != nil {
		return p, err
	}
	if p.NetworkID, err = r.GetUint64LE(); err != nil {
		return p, err
	}
	if p.PeerID, err = r.GetUint64LE(); err != nil {
		return p, err
	}
	if p.MyPort, err = r.GetUint32LE(); err != nil {
		return p, err
	}
	p.LocalTime, err = r.GetUint64LE()
	return p, err
}

// HandshakePayload is both the request and response body for CmdHandshake.
type HandshakePayload struct {
	Identity  PeerIdentity
	ChainInfo PeerChainInfo
	// LocalPeerList is only populated in the response, and only up to
	// protocol/params.WhitePeerlistLimit entries.
	LocalPeerList []PeerListEntry
}

// PeerListEntry is one advertised peer, used in Handshake responses
// (TimedSync carries no peer list).
type PeerListEntry struct {
	Addr      string
	Port      uint32
	PeerID    uint64
	LastSeen  uint64
}

func EncodeHandshake(p HandshakePayload) []byte {
	w := core.NewWriter()
	p.Identity.encode(w)
	p.ChainInfo.encode(w)
	w.PutVarint(uint64(len(p.LocalPeerList)))
	for _, e := range p.LocalPeerList {
		w.PutBytes([]byte(e.Addr))
		w.PutUint32LE(e.Port)
		w.PutUint64LE(e.PeerID)
		w.PutUint64LE(e.LastSeen)
	}
	return w.Bytes()
}

func DecodeHandshake(data []byte) (HandshakePayload, error) {
	var p HandshakePayload
	r := core.NewReader(data)
	var err error
	if p.Identity, err = decodeIdentity(r); err != nil {
		return p, err
	}
	if p.ChainInfo, err = decodeChainInfo(r); err != nil {
		return p, err
	}
	n, err := r.GetVarint()
	if err != nil {
		return p, err
	}
	const maxPeerList = params.WhitePeerlistLimit
	if n > maxPeerList {
		n = maxPeerList
	}
	p.LocalPeerList = make([]PeerListEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		addrBytes, err := r.GetBytes()
		if err != nil {
			return p, err
		}
		port, err := r.GetUint32LE()
		if err != nil {
			return p, err
		}
		pid, err := r.GetUint64LE()
		if err != nil {
			return p, err
		}
		lastSeen, err := r.GetUint64LE()
		if err != nil {
			return p, err
		}
		p.LocalPeerList = append(p.LocalPeerList, PeerListEntry{Addr: string(addrBytes), Port: port, PeerID: pid, LastSeen: lastSeen})
	}
	return p, core.DecodeFull(r)
}

// TimedSyncPayload carries only chain info, periodically, to keep idle
// connections' notion of each other's height fresh.
type TimedSyncPayload struct {
	ChainInfo PeerChainInfo
}

func EncodeTimedSync(p TimedSyncPayload) []byte {
	w := core.NewWriter()
	p.ChainInfo.encode(w)
	return w.Bytes()
}

func DecodeTimedSync(data []byte) (TimedSyncPayload, error) {
	var p TimedSyncPayload
	r := core.NewReader(data)
	var err error
	p.ChainInfo, err = decodeChainInfo(r)
	if err != nil {
		return p, err
	}
	return p, core.DecodeFull(r)
}

// PingResponse answers a back-ping with the responder's peer id, so the
// dialer can confirm it matches the peer id advertised during handshake.
type PingResponse struct {
	Status string
	PeerID uint64
}

func EncodePingResponse(p PingResponse) []byte {
	w := core.NewWriter()
	w.PutBytes([]byte(p.Status))
	w.PutUint64LE(p.PeerID)
	return w.Bytes()
}

func DecodePingResponse(data []byte) (PingResponse, error) {
	var p PingResponse
	r := core.NewReader(data)
	statusBytes, err := r.GetBytes()
	if err != nil {
		return p, err
	}
	p.Status = string(statusBytes)
	p.PeerID, err = r.GetUint64LE()
	if err != nil {
		return p, err
	}
	return p, core.DecodeFull(r)
}

func encodeHashList(w *core.Writer, hashes []core.Hash) {
	w.PutVarint(uint64(len(hashes)))
	for _, h := range hashes {
		w.PutHash(h)
	}
}

func decodeHashList(r *core.Reader) ([]core.Hash, error) {
	n, err := r.GetVarint()
	if err != nil {
		return nil, err
	}
	out := make([]core.Hash, n)
	for i := range out {
		if out[i], err = r.GetHash(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func encodeBlobList(w *core.Writer, blobs [][]byte) {
	w.PutVarint(uint64(len(blobs)))
	for _, b := range blobs {
		w.PutBytes(b)
	}
}

func decodeBlobList(r *core.Reader) ([][]byte, error) {
	n, err := r.GetVarint()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, n)
	for i := range out {
		if out[i], err = r.GetBytes(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// NewBlockPayload announces a freshly accepted block to normal/synchronizing
// peers, carrying the full raw block plus the raw bodies of its transactions.
type NewBlockPayload struct {
	Block     []byte
	Txs       [][]byte
	ChainInfo PeerChainInfo
}

func EncodeNewBlock(p NewBlockPayload) []byte {
	w := core.NewWriter()
	w.PutBytes(p.Block)
	encodeBlobList(w, p.Txs)
	p.ChainInfo.encode(w)
	return w.Bytes()
}

func DecodeNewBlock(data []byte) (NewBlockPayload, error) {
	var p NewBlockPayload
	r := core.NewReader(data)
	var err error
	if p.Block, err = r.GetBytes(); err != nil {
		return p, err
	}
	if p.Txs, err = decodeBlobList(r); err != nil {
		return p, err
	}
	if p.ChainInfo, err = decodeChainInfo(r); err != nil {
		return p, err
	}
	return p, core.DecodeFull(r)
}

// NewLiteBlockPayload is the P2P_LITE_BLOCKS_PROPOGATION_VERSION-and-above
// substitute for NewBlock: the block (header + base tx) without the raw
// bodies of its included transactions, which the receiver is expected to
// already hold from prior relay.
type NewLiteBlockPayload struct {
	Block         []byte
	CurrentHeight uint32
}

func EncodeNewLiteBlock(p NewLiteBlockPayload) []byte {
	w := core.NewWriter()
	w.PutBytes(p.Block)
	w.PutUint32LE(p.CurrentHeight)
	return w.Bytes()
}

func DecodeNewLiteBlock(data []byte) (NewLiteBlockPayload, error) {
	var p NewLiteBlockPayload
	r := core.NewReader(data)
	var err error
	if p.Block, err = r.GetBytes(); err != nil {
		return p, err
	}
	if p.CurrentHeight, err = r.GetUint32LE(); err != nil {
		return p, err
	}
	return p, core.DecodeFull(r)
}

// MissingTxsPayload is sent by a NewLiteBlock receiver that cannot resolve
// every transaction hash from its own pool/relay cache.
type MissingTxsPayload struct {
	BlockID core.Hash
	Missing []core.Hash
	// Txs is populated only on the reply (the sender's answer with raw
	// bodies); empty on the request.
	Txs [][]byte
}

func EncodeMissingTxs(p MissingTxsPayload) []byte {
	w := core.NewWriter()
	w.PutHash(p.BlockID)
	encodeHashList(w, p.Missing)
	encodeBlobList(w, p.Txs)
	return w.Bytes()
}

func DecodeMissingTxs(data []byte) (MissingTxsPayload, error) {
	var p MissingTxsPayload
	r := core.NewReader(data)
	var err error
	if p.BlockID, err = r.GetHash(); err != nil {
		return p, err
	}
	if p.Missing, err = decodeHashList(r); err != nil {
		return p, err
	}
	if p.Txs, err = decodeBlobList(r); err != nil {
		return p, err
	}
	return p, core.DecodeFull(r)
}

// NewTransactionsPayload fans loose (not-yet-in-a-block) transactions out to
// peers; KeptByBlock mirrors the reference's tx_verification_context flag so
// a receiver that itself received these via a block does not re-relay them.
type NewTransactionsPayload struct {
	Txs          [][]byte
	KeptByBlock  bool
}

func EncodeNewTransactions(p NewTransactionsPayload) []byte {
	w := core.NewWriter()
	encodeBlobList(w, p.Txs)
	if p.KeptByBlock {
		w.PutByte(1)
	} else {
		w.PutByte(0)
	}
	return w.Bytes()
}

func DecodeNewTransactions(data []byte) (NewTransactionsPayload, error) {
	var p NewTransactionsPayload
	r := core.NewReader(data)
	var err error
	if p.Txs, err = decodeBlobList(r); err != nil {
		return p, err
	}
	b, err := r.GetByte()
	if err != nil {
		return p, err
	}
	p.KeptByBlock = b != 0
	return p, core.DecodeFull(r)
}

// RequestGetObjectsPayload asks a peer for specific blocks/transactions by
// id, used during catch-up (a NewLiteBlock's missing transactions are
// fetched with MissingTxs instead).
type RequestGetObjectsPayload struct {
	Blocks []core.Hash
	Txs    []core.Hash
}

func EncodeRequestGetObjects(p RequestGetObjectsPayload) []byte {
	w := core.NewWriter()
	encodeHashList(w, p.Blocks)
	encodeHashList(w, p.Txs)
	return w.Bytes()
}

func DecodeRequestGetObjects(data []byte) (RequestGetObjectsPayload, error) {
	var p RequestGetObjectsPayload
	r := core.NewReader(data)
	var err error
	if p.Blocks, err = decodeHashList(r); err != nil {
		return p, err
	}
	if p.Txs, err = decodeHashList(r); err != nil {
		return p, err
	}
	return p, core.DecodeFull(r)
}

// ResponseGetObjectsPayload answers RequestGetObjects: the found block blobs,
// the raw bodies of the requested transactions found in the responder's pool
// (a separate list, not the blocks' own transactions), any ids that could
// not be resolved, and the responder's own chain info.
type ResponseGetObjectsPayload struct {
	Blocks    [][]byte
	Txs       [][]byte
	Missed    []core.Hash
	ChainInfo PeerChainInfo
}

func EncodeResponseGetObjects(p ResponseGetObjectsPayload) []byte {
	w := core.NewWriter()
	encodeBlobList(w, p.Blocks)
	encodeBlobList(w, p.Txs)
	encodeHashList(w, p.Missed)
	p.ChainInfo.encode(w)
	return w.Bytes()
}

func DecodeResponseGetObjects(data []byte) (ResponseGetObjectsPayload, error) {
	var p ResponseGetObjectsPayload
	r := core.NewReader(data)
	var err error
	if p.Blocks, err = decodeBlobList(r); err != nil {
		return p, err
	}
	if p.Txs, err = decodeBlobList(r); err != nil {
		return p, err
	}
	if p.Missed, err = decodeHashList(r); err != nil {
		return p, err
	}
	if p.ChainInfo, err = decodeChainInfo(r); err != nil {
		return p, err
	}
	return p, core.DecodeFull(r)
}

// RequestChainPayload carries the requester's sparse locator (§4.2's
// BuildSparseChainLocator output): newest first, starting at the tip and
// stepping back by doubling offsets down to genesis.
type RequestChainPayload struct {
	BlockIDs []core.Hash
}

func EncodeRequestChain(p RequestChainPayload) []byte {
	w := core.NewWriter()
	encodeHashList(w, p.BlockIDs)
	return w.Bytes()
}

func DecodeRequestChain(data []byte) (RequestChainPayload, error) {
	var p RequestChainPayload
	r := core.NewReader(data)
	var err error
	p.BlockIDs, err = decodeHashList(r)
	if err != nil {
		return p, err
	}
	return p, core.DecodeFull(r)
}

// ResponseChainEntryPayload answers RequestChain with a run of block ids
// starting at StartHeight, plus the responder's total chain height.
type ResponseChainEntryPayload struct {
	StartHeight uint32
	TotalHeight uint32
	BlockIDs    []core.Hash
}

func EncodeResponseChainEntry(p ResponseChainEntryPayload) []byte {
	w := core.NewWriter()
	w.PutUint32LE(p.StartHeight)
	w.PutUint32LE(p.TotalHeight)
	encodeHashList(w, p.BlockIDs)
	return w.Bytes()
}

func DecodeResponseChainEntry(data []byte) (ResponseChainEntryPayload, error) {
	var p ResponseChainEntryPayload
	r := core.NewReader(data)
	var err error
	if p.StartHeight, err = r.GetUint32LE(); err != nil {
		return p, err
	}
	if p.TotalHeight, err = r.GetUint32LE(); err != nil {
		return p, err
	}
	p.BlockIDs, err = decodeHashList(r)
	if err != nil {
		return p, err
	}
	return p, core.DecodeFull(r)
}

// RequestTxPoolPayload lists transaction ids the requester already has, so
// the responder only needs to send back the difference.
type RequestTxPoolPayload struct {
	Have []core.Hash
}

func EncodeRequestTxPool(p RequestTxPoolPayload) []byte {
	w := core.NewWriter()
	encodeHashList(w, p.Have)
	return w.Bytes()
}

func DecodeRequestTxPool(data []byte) (RequestTxPoolPayload, error) {
	var p RequestTxPoolPayload
	r := core.NewReader(data)
	var err error
	p.Have, err = decodeHashList(r)
	if err != nil {
		return p, err
	}
	return p, core.DecodeFull(r)
}
