package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Command names the bridge itself interprets. Everything else is opaque
// collaborator vocabulary and passes through untouched.
const (
	CmdHello              = "hello"
	CmdAcknowledge        = "acknowledge"
	CmdReadAllMorphs      = "read_all_morphs"
	CmdReadAllControllers = "read_all_controllers"
)

var (
	// ErrNotObject is returned when a message decodes to JSON null instead
	// of an object.
	ErrNotObject = errors.New("message is not a JSON object")

	// ErrNoCmd is returned when a message carries no usable cmd field.
	ErrNoCmd = errors.New("message has no cmd")
)

// Envelope is one decoded bridge message: the mandatory cmd plus an opaque
// field map. The original wire bytes are retained so verbatim re-delivery
// never depends on re-marshaling.
type Envelope struct {
	cmd    string
	fields map[string]json.RawMessage
	raw    []byte
}

// ParseEnvelope decodes data into an Envelope. The payload must be a JSON
// object with a non-empty string cmd field; anything else is rejected and
// the caller is expected to discard the message.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if fields == nil {
		return nil, ErrNotObject
	}

	rawCmd, ok := fields["cmd"]
	if !ok {
		return nil, ErrNoCmd
	}
	var cmd string
	if err := json.Unmarshal(rawCmd, &cmd); err != nil {
		return nil, fmt.Errorf("%w: cmd is not a string", ErrNoCmd)
	}
	if cmd == "" {
		return nil, fmt.Errorf("%w: cmd is empty", ErrNoCmd)
	}

	return &Envelope{cmd: cmd, fields: fields, raw: data}, nil
}

// Cmd returns the envelope's command name.
func (e *Envelope) Cmd() string {
	return e.cmd
}

// Raw returns the wire bytes this envelope was decoded from (or, for a
// normalized envelope, its re-marshaled form).
func (e *Envelope) Raw() []byte {
	return e.raw
}

// Has reports whether the envelope carries a field named key, whatever its
// value.
func (e *Envelope) Has(key string) bool {
	_, ok := e.fields[key]
	return ok
}

// Field returns the raw JSON value of the named field.
func (e *Envelope) Field(key string) (json.RawMessage, bool) {
	v, ok := e.fields[key]
	return v, ok
}

// StringField returns the named field when it holds a JSON string.
func (e *Envelope) StringField(key string) (string, bool) {
	v, ok := e.fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

// Ack is the handshake acknowledgement returned on hello, echoing the
// sender's id and name.
type Ack struct {
	Cmd  string `json:"cmd"`
	Ack  string `json:"ack"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewHelloAck builds the acknowledgement for a hello carrying id and name.
func NewHelloAck(id, name string) Ack {
	return Ack{
		Cmd:  CmdAcknowledge,
		Ack:  CmdHello,
		ID:   id,
		Name: name,
	}
}

// Marshal serializes the acknowledgement to its wire form.
func (a Ack) Marshal() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal acknowledge: %w", err)
	}
	return data, nil
}
