package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

type Type string

const (
	TypeUpdate Type = "update"
	TypePing   Type = "ping"
	TypePong   Type = "pong"
)

// ErrMalformed is wrapped by every Decode failure. Callers drop the frame and keep reading.
var ErrMalformed = errors.New("malformed message")

// Message is one frame of the sync protocol. Text and Timestamp are only meaningful for updates.
type Message struct {
	Type      Type
	Text      string
	Timestamp float64
}

func Update(text string, ts float64) Message {
	return Message{Type: TypeUpdate, Text: text, Timestamp: ts}
}

func Ping() Message {
	return Message{Type: TypePing}
}

func Pong() Message {
	return Message{Type: TypePong}
}

// wireMessage uses pointers so that a missing field can be told apart from an empty one.
type wireMessage struct {
	Type Type     `json:"type"`
	Text *string  `json:"text,omitempty"`
	TS   *float64 `json:"ts,omitempty"`
}

func Decode(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch w.Type {
	case TypePing, TypePong:
		return Message{Type: w.Type}, nil
	case TypeUpdate:
		if w.Text == nil {
			return Message{}, fmt.Errorf("%w: update without text", ErrMalformed)
		}
		if w.TS == nil {
			return Message{}, fmt.Errorf("%w: update without ts", ErrMalformed)
		}
		return Update(*w.Text, *w.TS), nil
	case "":
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, w.Type)
	}
}

// Encode serializes any of the three variants. It only fails for an update whose
// timestamp is not a finite number, which JSON cannot carry.
func Encode(m Message) ([]byte, error) {
	w := wireMessage{Type: m.Type}
	switch m.Type {
	case TypePing, TypePong:
	case TypeUpdate:
		if math.IsNaN(m.Timestamp) || math.IsInf(m.Timestamp, 0) {
			return nil, fmt.Errorf("cannot encode update with timestamp %v", m.Timestamp)
		}
		text, ts := m.Text, m.Timestamp
		w.Text, w.TS = &text, &ts
	default:
		return nil, fmt.Errorf("cannot encode message of type %q", m.Type)
	}
	return json.Marshal(w)
}
