package cdp

import (
	"encoding/json"
	"fmt"
)

// Kind classifies a decoded protocol message
type Kind int

const (
	KindUnknown  Kind = iota
	KindRequest       // has id and method
	KindResponse      // has id, no method
	KindEvent         // has method, no id
)

// Error is the error object carried by a failed response
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Message is a single CDP envelope. It is decoded once at the transport
// boundary; the original bytes are retained so that messages we do not
// rewrite pass through byte-for-byte.
type Message struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`

	raw   []byte
	dirty bool
}

// Decode parses a wire message. The input bytes are retained verbatim.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("malformed CDP message: %w", err)
	}
	m.raw = data
	return &m, nil
}

// Kind reports how the message participates in the request/response protocol
func (m *Message) Kind() Kind {
	switch {
	case m.ID != nil && m.Method != "":
		return KindRequest
	case m.ID != nil:
		return KindResponse
	case m.Method != "":
		return KindEvent
	default:
		return KindUnknown
	}
}

// SetParams replaces the params payload and marks the message as rewritten
func (m *Message) SetParams(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	m.Params = data
	m.dirty = true
	return nil
}

// SetResult replaces the result payload and marks the message as rewritten
func (m *Message) SetResult(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	m.Result = data
	m.dirty = true
	return nil
}

// Bytes returns the wire form: the original bytes when the message was never
// rewritten, a fresh encoding otherwise.
func (m *Message) Bytes() ([]byte, error) {
	if !m.dirty && m.raw != nil {
		return m.raw, nil
	}
	return json.Marshal(m)
}
