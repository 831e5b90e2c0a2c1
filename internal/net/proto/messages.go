package proto

import (
	"encoding/json"
	"fmt"

	"github.com/Learath2/libtw2/internal/snap"
)

const (
	// Version tracks the control-message revision expected by both sides.
	Version = 1

	// TypeAck acknowledges a reconstructed tick.
	TypeAck = "ack"
	// TypeResync asks the server for a full snapshot.
	TypeResync = "resync"
	// TypeHello is the first server message on a session.
	TypeHello = "hello"
)

// ClientMessage is the JSON envelope clients send on the control channel.
type ClientMessage struct {
	Ver    int     `json:"ver,omitempty"`
	Type   string  `json:"type"`
	Ack    *uint32 `json:"ack,omitempty"`
	Reason string  `json:"reason,omitempty"`
	SentAt int64   `json:"sentAt,omitempty"`
}

// HelloMessage tells a client which peer id and tick rate the server
// assigned to its session.
type HelloMessage struct {
	Ver      int    `json:"ver"`
	Type     string `json:"type"`
	PeerID   string `json:"peerId"`
	TickRate int    `json:"tickRate"`
}

// EncodeAck renders an acknowledgement for tick.
func EncodeAck(tick snap.Tick) ([]byte, error) {
	value := uint32(tick)
	return json.Marshal(ClientMessage{Ver: Version, Type: TypeAck, Ack: &value})
}

// EncodeResync renders a resync request.
func EncodeResync(reason string) ([]byte, error) {
	return json.Marshal(ClientMessage{Ver: Version, Type: TypeResync, Reason: reason})
}

// DecodeClientMessage parses a control message.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if len(data) == 0 {
		return msg, fmt.Errorf("decode client message: empty payload")
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode client message: %w", err)
	}
	if msg.Ver != 0 && msg.Ver != Version {
		return msg, fmt.Errorf("decode client message: unsupported version %d", msg.Ver)
	}
	switch msg.Type {
	case TypeAck:
		if msg.Ack == nil {
			return msg, fmt.Errorf("decode client message: ack without tick")
		}
	case TypeResync:
	default:
		return msg, fmt.Errorf("decode client message: unknown type %q", msg.Type)
	}
	return msg, nil
}

// EncodeHello renders the session greeting.
func EncodeHello(peerID string, tickRate int) ([]byte, error) {
	return json.Marshal(HelloMessage{Ver: Version, Type: TypeHello, PeerID: peerID, TickRate: tickRate})
}

// DecodeHello parses the session greeting.
func DecodeHello(data []byte) (HelloMessage, error) {
	var msg HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode hello: %w", err)
	}
	if msg.Type != TypeHello {
		return msg, fmt.Errorf("decode hello: unexpected type %q", msg.Type)
	}
	return msg, nil
}
