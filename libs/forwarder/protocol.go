// Package forwarder implements the Semtech UDP packet-forwarder protocol,
// version 2: a 4-or-12-byte binary header optionally followed by a JSON
// body, carrying uplink/downlink LoRa frames between a gateway and a
// network server. Grounded on packet_forwarder.c from the reference
// firmware.
package forwarder

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

const ProtocolVersion uint8 = 0x02

//go:generate stringer -type=MessageType
type MessageType uint8

const (
	PushData MessageType = 0x00
	PushAck  MessageType = 0x01
	PullData MessageType = 0x02
	PullResp MessageType = 0x03
	PullAck  MessageType = 0x04
	TxAck    MessageType = 0x05
)

// TX_ACK error tokens, as mandated by the protocol's txpk_ack.error field.
const (
	ErrInvalidJSON = "INVALID_JSON"
	ErrMissingTxpk = "MISSING_TXPK"
	ErrTxFailed    = "TX_FAILED"
)

// Header is the binary frame prefix shared by every message type. EUI is
// only present on PUSH_DATA, PULL_DATA and TX_ACK; PULL_RESP and the ack
// types carry no EUI.
type Header struct {
	Version uint8
	Token   uint16
	Type    MessageType
	GwEUI   [8]uint8
	HasEUI  bool
}

// Encode serializes the header. Callers append the JSON body, if any,
// themselves.
func (h Header) Encode() []byte {
	size := 4
	if h.HasEUI {
		size += 8
	}
	buf := make([]byte, size)
	buf[0] = h.Version
	binary.BigEndian.PutUint16(buf[1:3], h.Token)
	buf[3] = uint8(h.Type)
	if h.HasEUI {
		copy(buf[4:12], h.GwEUI[:])
	}
	return buf
}

// DecodeHeader parses the fixed-size prefix of a received datagram and
// returns the header plus the offset where the JSON body (if any) begins.
func DecodeHeader(data []byte) (Header, int, error) {
	if len(data) < 4 {
		return Header{}, 0, fmt.Errorf("datagram too short: %d bytes", len(data))
	}

	h := Header{
		Version: data[0],
		Token:   binary.BigEndian.Uint16(data[1:3]),
		Type:    MessageType(data[3]),
	}
	if h.Version != ProtocolVersion {
		return Header{}, 0, fmt.Errorf("unsupported protocol version 0x%02X", h.Version)
	}

	offset := 4
	switch h.Type {
	case PushData, PullData, TxAck:
		if len(data) < 12 {
			return Header{}, 0, fmt.Errorf("message type %v missing gateway EUI", h.Type)
		}
		copy(h.GwEUI[:], data[4:12])
		h.HasEUI = true
		offset = 12
	case PullResp, PushAck, PullAck:
		// no EUI field
	default:
		return Header{}, 0, fmt.Errorf("unknown message type 0x%02X", h.Type)
	}

	return h, offset, nil
}

// TokenCounter hands out 16-bit tokens for outbound messages. The protocol
// keeps PUSH and PULL token streams independent and purely informational:
// nothing requires strict request/response matching except TX_ACK, which
// must echo the token of the PULL_RESP that triggered it. Next is safe for
// concurrent use: the push token stream is shared between txLoop's
// PUSH_DATA and keepaliveLoop's stat PUSH_DATA.
type TokenCounter struct {
	next atomic.Uint32
}

func (t *TokenCounter) Next() uint16 {
	return uint16(t.next.Add(1))
}
