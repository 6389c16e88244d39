package p2p

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/syfer-network/cnnode/core"
	"github.com/syfer-network/cnnode/protocol"
	"github.com/syfer-network/cnnode/protocol/params"
)

// connState is a connection's position in the per-connection state machine
// (§4.5): before_handshake → {synchronizing | idle | normal} → shutdown.
// There is no sync_required or pool_sync_required state.
type connState int

const (
	stateBeforeHandshake connState = iota
	stateSynchronizing
	stateIdle
	stateNormal
	stateShutdown
)

func (s connState) String() string {
	switch s {
	case stateBeforeHandshake:
		return "before_handshake"
	case stateSynchronizing:
		return "synchronizing"
	case stateIdle:
		return "idle"
	case stateNormal:
		return "normal"
	case stateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// pendingInvoke is a single in-flight request/response pairing on a
// connection. The reference Levin protocol serializes invokes per
// connection (one outstanding call at a time blocks further sends on that
// connection until answered), so one slot is enough.
type pendingInvoke struct {
	command uint32
	reply   chan protocol.Header
	payload chan []byte
}

// Connection is one Levin-framed peer connection: a TCP socket, its state
// machine position, and a backpressured write queue. Grounded on the
// teacher's per-stream send-loop in node.go (sendToPeer/sendToPeerAsync),
// generalized from "one libp2p stream per message" to "one long-lived
// framed TCP socket carrying every command", which is what the reference
// P2P transport actually does.
type Connection struct {
	node     *Node
	conn     net.Conn
	addr     string
	outbound bool

	mu             sync.Mutex
	state          connState
	peerID         uint64
	advertisedPort uint32
	peerVersion    uint32
	peerHeight     uint32
	peerTopID      core.Hash
	peerCumDiff    core.Difficulty
	pending        *pendingInvoke

	writeCh    chan writeRequest
	writeBytes int64
	done       chan struct{}
	closeOnce  sync.Once
}

type writeRequest struct {
	header  protocol.Header
	payload []byte
}

func newConnection(node *Node, conn net.Conn, outbound bool) *Connection {
	return &Connection{
		node:     node,
		conn:     conn,
		addr:     conn.RemoteAddr().String(),
		outbound: outbound,
		state:    stateBeforeHandshake,
		writeCh:  make(chan writeRequest, 256),
		done:     make(chan struct{}),
	}
}

func (c *Connection) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) getState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// close interrupts the connection: closes the socket and marks it shutdown.
// Matches spec's "pushing past the write buffer cap interrupts the
// connection" and "a write exceeding INVOKE_TIMEOUT interrupts the
// connection" rules — both funnel here.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.setState(stateShutdown)
		close(c.done)
		c.conn.Close()
	})
}

// writeLoop drains writeCh onto the socket, enforcing the per-write
// INVOKE_TIMEOUT deadline from spec's write-queue backpressure rule.
func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case req := <-c.writeCh:
			c.mu.Lock()
			c.writeBytes -= int64(len(req.payload))
			c.mu.Unlock()

			c.conn.SetWriteDeadline(time.Now().Add(params.InvokeTimeout))
			if err := protocol.WriteFrame(c.conn, req.header, req.payload); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("p2p: write to %s failed: %v", c.addr, err)
				}
				c.close()
				return
			}
		}
	}
}

// enqueue pushes a frame onto the write queue, interrupting the connection
// if doing so would exceed P2P_CONNECTION_MAX_WRITE_BUFFER_SIZE.
func (c *Connection) enqueue(h protocol.Header, payload []byte) {
	c.mu.Lock()
	if c.writeBytes+int64(len(payload)) > params.P2PConnectionMaxWriteBufferSize {
		c.mu.Unlock()
		log.Printf("p2p: write buffer cap exceeded for %s, interrupting", c.addr)
		c.close()
		return
	}
	c.writeBytes += int64(len(payload))
	c.mu.Unlock()

	select {
	case c.writeCh <- writeRequest{header: h, payload: payload}:
	case <-c.done:
	}
}

func (c *Connection) notify(command uint32, payload []byte) {
	c.enqueue(protocol.Header{Command: command, Flags: protocol.FlagRequest, ProtocolVersion: params.P2PCurrentVersion}, payload)
}

// invoke sends a request and blocks for its paired response, bounded by
// INVOKE_TIMEOUT. Only one invoke may be outstanding per connection at a
// time, matching the reference's serialized-invoke behavior.
func (c *Connection) invoke(command uint32, payload []byte) ([]byte, error) {
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("p2p: invoke already in flight on %s", c.addr)
	}
	pi := &pendingInvoke{command: command, reply: make(chan protocol.Header, 1), payload: make(chan []byte, 1)}
	c.pending = pi
	c.mu.Unlock()

	c.enqueue(protocol.Header{Command: command, Flags: protocol.FlagRequest, HasReturnData: true, ProtocolVersion: params.P2PCurrentVersion}, payload)

	select {
	case data := <-pi.payload:
		return data, nil
	case <-time.After(params.InvokeTimeout):
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
		c.close()
		return nil, fmt.Errorf("p2p: invoke %d to %s timed out", command, c.addr)
	case <-c.done:
		return nil, fmt.Errorf("p2p: connection to %s closed during invoke", c.addr)
	}
}

func (c *Connection) respond(command uint32, payload []byte) {
	c.enqueue(protocol.Header{Command: command, Flags: protocol.FlagResponse, ProtocolVersion: params.P2PCurrentVersion}, payload)
}

// readLoop is the connection's receive side: one Levin frame at a time,
// dispatched by command id. Runs until the socket errors or close() fires.
func (c *Connection) readLoop() {
	defer c.close()
	for {
		c.conn.SetReadDeadline(time.Time{})
		h, payload, err := protocol.ReadFrame(c.conn)
		if err != nil {
			if !isExpectedCloseError(err) {
				log.Printf("p2p: read from %s failed: %v", c.addr, err)
			}
			return
		}

		if h.Flags == protocol.FlagResponse {
			c.mu.Lock()
			pi := c.pending
			if pi != nil && pi.command == h.Command {
				c.pending = nil
			} else {
				pi = nil
			}
			c.mu.Unlock()
			if pi != nil {
				pi.payload <- payload
			}
			continue
		}

		if err := c.node.handleCommand(c, h.Command, payload); err != nil {
			log.Printf("p2p: handling command %d from %s: %v", h.Command, c.addr, err)
			c.node.peers.Penalize(c.addr, ScorePenaltyInvalid, err.Error())
		}
	}
}

// runHandshake performs the identity/chain-info exchange and, when a
// nonzero port was advertised, the back-ping promotion to the white list.
// Grounded on spec's handshake contract (§4.5).
func (c *Connection) runHandshake() error {
	n := c.node
	ownChainInfo := n.chainInfo()
	ownIdentity := protocol.PeerIdentity{
		Version:   params.P2PCurrentVersion,
		NetworkID: n.cfg.NetworkID,
		PeerID:    n.peerID.Get(),
		MyPort:    n.cfg.MyPort,
		LocalTime: uint64(time.Now().Unix()),
	}
	ownPayload := protocol.HandshakePayload{Identity: ownIdentity, ChainInfo: ownChainInfo}

	var remote protocol.HandshakePayload
	if c.outbound {
		// The read/write loops start only after the handshake, so the
		// request and its reply go straight over the socket here.
		req := protocol.Header{Command: protocol.CmdHandshake, Flags: protocol.FlagRequest, HasReturnData: true, ProtocolVersion: params.P2PCurrentVersion}
		if err := protocol.WriteFrame(c.conn, req, protocol.EncodeHandshake(ownPayload)); err != nil {
			return err
		}
		h, respBytes, err := protocol.ReadFrame(c.conn)
		if err != nil {
			return err
		}
		if h.Command != protocol.CmdHandshake || h.Flags != protocol.FlagResponse {
			return fmt.Errorf("p2p: expected handshake response, got command %d", h.Command)
		}
		remote, err = protocol.DecodeHandshake(respBytes)
		if err != nil {
			return err
		}
	} else {
		h, payload, err := protocol.ReadFrame(c.conn)
		if err != nil {
			return err
		}
		if h.Command == protocol.CmdPing && h.Flags == protocol.FlagRequest {
			// A back-ping arrives on a fresh connection with no handshake:
			// answer it with our peer id and close.
			resp := protocol.EncodePingResponse(protocol.PingResponse{Status: "OK", PeerID: n.peerID.Get()})
			protocol.WriteFrame(c.conn, protocol.Header{Command: protocol.CmdPing, Flags: protocol.FlagResponse, ProtocolVersion: params.P2PCurrentVersion}, resp)
			return fmt.Errorf("p2p: answered back-ping from %s", c.addr)
		}
		if h.Command != protocol.CmdHandshake || h.Flags != protocol.FlagRequest {
			return fmt.Errorf("p2p: expected handshake request, got command %d", h.Command)
		}
		remote, err = protocol.DecodeHandshake(payload)
		if err != nil {
			return err
		}
		resp := protocol.HandshakePayload{
			Identity:      ownIdentity,
			ChainInfo:     ownChainInfo,
			LocalPeerList: toPeerListEntries(n.peers.WhiteSample(int(params.WhitePeerlistLimit))),
		}
		c.respond(protocol.CmdHandshake, protocol.EncodeHandshake(resp))
	}

	if remote.Identity.NetworkID != n.cfg.NetworkID {
		return fmt.Errorf("p2p: network id mismatch from %s", c.addr)
	}
	if remote.Identity.Version < params.P2PMinimumVersion {
		return fmt.Errorf("p2p: peer %s protocol version %d below minimum", c.addr, remote.Identity.Version)
	}

	c.mu.Lock()
	c.peerID = remote.Identity.PeerID
	c.advertisedPort = remote.Identity.MyPort
	c.peerVersion = remote.Identity.Version
	c.peerHeight = remote.ChainInfo.CurrentHeight
	c.peerTopID = remote.ChainInfo.TopID
	c.peerCumDiff = remote.ChainInfo.CumulativeDifficulty
	c.mu.Unlock()

	for _, e := range remote.LocalPeerList {
		n.peers.AddGray(fmt.Sprintf("%s:%d", e.Addr, e.Port), e.PeerID)
	}

	if remote.Identity.MyPort != 0 {
		host, _, err := net.SplitHostPort(c.addr)
		if err == nil {
			go n.backPing(host, remote.Identity.MyPort, remote.Identity.PeerID, c.addr)
		}
	}
	if c.outbound {
		n.peers.RecordAnchor(c.addr, remote.Identity.PeerID)
	}

	if remote.ChainInfo.CurrentHeight > n.chain.Height() {
		c.setState(stateSynchronizing)
	} else {
		c.setState(stateNormal)
	}
	return nil
}

// backPing dials (ip, port) fresh and issues Ping; if the responder's peer
// id matches peerID, the original connection's address is promoted to the
// white list, per spec's handshake contract back-ping rule.
func (n *Node) backPing(ip string, port uint32, wantPeerID uint64, originalAddr string) {
	addr := fmt.Sprintf("%s:%d", ip, port)
	conn, err := net.DialTimeout("tcp", addr, params.ConnectionTimeout)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(params.ConnectionTimeout))

	if err := protocol.WriteFrame(conn, protocol.Header{Command: protocol.CmdPing, Flags: protocol.FlagRequest, HasReturnData: true, ProtocolVersion: params.P2PCurrentVersion}, nil); err != nil {
		return
	}
	h, payload, err := protocol.ReadFrame(conn)
	if err != nil || h.Command != protocol.CmdPing {
		return
	}
	resp, err := protocol.DecodePingResponse(payload)
	if err != nil || resp.PeerID != wantPeerID {
		return
	}
	n.peers.PromoteToWhite(originalAddr, wantPeerID)
}

func toPeerListEntries(records []PeerRecord) []protocol.PeerListEntry {
	out := make([]protocol.PeerListEntry, 0, len(records))
	for _, r := range records {
		host, portStr, err := net.SplitHostPort(r.Addr)
		if err != nil {
			continue
		}
		var port uint32
		fmt.Sscanf(portStr, "%d", &port)
		out = append(out, protocol.PeerListEntry{Addr: host, Port: port, PeerID: r.PeerID, LastSeen: uint64(r.LastSeen)})
	}
	return out
}
