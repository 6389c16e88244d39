// Package protocol implements the Levin wire framing used by the P2P
// transport, grounded on original_source's levin_notify/net_node headers
// (no original_source/levin file survived the distillation filter, so the
// 33-byte layout below follows the constants already fixed in
// protocol/params/p2p.go: an 8-byte signature, an 8-byte payload length,
// then the response flag, command id, return code, message flags, and
// protocol version).
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/syfer-network/cnnode/protocol/params"
)

// HeaderSize is the fixed size of a Levin frame header in bytes.
const HeaderSize = 8 + 8 + 1 + 4 + 4 + 4 + 4

// Message flags, carried in the header's Flags field.
const (
	FlagRequest  uint32 = 1
	FlagResponse uint32 = 2
)

var (
	ErrBadSignature  = errors.New("protocol: bad levin signature")
	ErrPayloadTooBig = errors.New("protocol: levin payload exceeds PACKET_MAX_SIZE")
)

// Header is the fixed Levin frame header preceding every command's payload.
type Header struct {
	PayloadSize     uint64
	HasReturnData   bool
	Command         uint32
	ReturnCode      int32
	Flags           uint32
	ProtocolVersion uint32
}

// WriteFrame writes a Levin header followed by payload to w.
func WriteFrame(w io.Writer, h Header, payload []byte) error {
	if uint64(len(payload)) > params.PacketMaxSize {
		return ErrPayloadTooBig
	}
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], params.LevinSignature)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(len(payload)))
	if h.HasReturnData {
		buf[16] = 1
	}
	binary.LittleEndian.PutUint32(buf[17:21], h.Command)
	binary.LittleEndian.PutUint32(buf[21:25], uint32(h.ReturnCode))
	binary.LittleEndian.PutUint32(buf[25:29], h.Flags)
	binary.LittleEndian.PutUint32(buf[29:33], h.ProtocolVersion)
	if _, err := w.Write(buf); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one Levin header plus payload from r.
func ReadFrame(r io.Reader) (Header, []byte, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, nil, err
	}
	sig := binary.LittleEndian.Uint64(buf[0:8])
	if sig != params.LevinSignature {
		return Header{}, nil, fmt.Errorf("%w: got %#x", ErrBadSignature, sig)
	}
	size := binary.LittleEndian.Uint64(buf[8:16])
	if size > params.PacketMaxSize {
		return Header{}, nil, ErrPayloadTooBig
	}
	h := Header{
		PayloadSize:     size,
		HasReturnData:   buf[16] != 0,
		Command:         binary.LittleEndian.Uint32(buf[17:21]),
		ReturnCode:      int32(binary.LittleEndian.Uint32(buf[21:25])),
		Flags:           binary.LittleEndian.Uint32(buf[25:29]),
		ProtocolVersion: binary.LittleEndian.Uint32(buf[29:33]),
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Header{}, nil, err
	}
	return h, payload, nil
}
