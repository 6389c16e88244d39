package p2p

import "net"

// connGater decides whether an inbound TCP connection should be accepted
// before a single byte of the handshake is read. The teacher's BanGater
// hooked libp2p's multi-stage ConnectionGater (dial/accept/secured/upgraded,
// because libp2p authenticates a peer id before the application protocol
// runs); a bare TCP accept has no peer id yet, so there is exactly one
// useful interception point: the remote IP at accept time. PeerList.IsBanned
// is keyed by host, not by peer id, and this gater is its only caller; no
// ban check runs once the handshake payload has been read.
type connGater struct {
	isBannedAddr func(ip string) bool
}

func newConnGater(isBannedAddr func(ip string) bool) *connGater {
	return &connGater{isBannedAddr: isBannedAddr}
}

func (g *connGater) allow(conn net.Conn) bool {
	if g.isBannedAddr == nil {
		return true
	}
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return true
	}
	return !g.isBannedAddr(host)
}
