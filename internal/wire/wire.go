// Package wire defines the messages exchanged between server and clients.
//
// Every message is a JSON envelope {type, data, timestamp}. Datagram sends
// additionally carry a monotonically increasing seq so receivers can drop
// stale or duplicated datagrams. On stream transports messages are delimited
// by a trailing newline; on datagram transports one message is one datagram.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Client to server.
const (
	TypeJoin   = "join"
	TypeStart  = "start"
	TypeAnswer = "answer"
	TypeStatus = "status"
)

// Server to client.
const (
	TypeJoinAck      = "join_ack"
	TypeJoinReject   = "join_reject"
	TypeError        = "error"
	TypePlayerJoined = "player_joined"
	TypeRoundBegin   = "round_begin"
	TypeAnswerAck    = "answer_ack"
	TypeRoundResult  = "round_result"
	TypeStandings    = "standings"
	TypeGameOver     = "game_over"
	TypeStatusInfo   = "status_info"
	TypeHeartbeat    = "heartbeat"
)

type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Seq       uint64          `json:"seq,omitempty"`
}

// Encode marshals a complete envelope. Pass seq 0 for stream transports.
func Encode(typ string, data any, seq uint64, now time.Time) ([]byte, error) {
	env := Envelope{
		Type:      typ,
		Timestamp: now.UnixMilli(),
		Seq:       seq,
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("wire: marshal %s data: %w", typ, err)
		}
		env.Data = raw
	}

	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s: %w", typ, err)
	}

	return b, nil
}

// Decode unmarshals one framed message.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("wire: decode: %w", err)
	}

	if env.Type == "" {
		return Envelope{}, fmt.Errorf("wire: decode: missing type")
	}

	return env, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("wire: %s: empty data", e.Type)
	}

	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("wire: %s: decode data: %w", e.Type, err)
	}

	return nil
}
