// Package wire defines the three RPC wire message shapes and their encoding.
//
// Every message is a single JSON object with a numeric discriminant:
//
//	{"type":1,"id":"<decimal>","proxyId":"<id>","method":"<name>","args":[...]}
//	{"type":2,"id":"<decimal>"[,"res":<json>]}
//	{"type":3,"id":"<decimal>"[,"err":{"isError":true,"name":..,"message":..,"stack":..}|null]}
//
// Type 1 is a request, type 2 a successful reply, type 3 an error reply.
// The id field correlates a reply back to exactly one prior request sent by
// the peer. An absent res field signals a void result; an explicit null err
// signals "failed with no details", which is distinct from a structured
// error.
//
// Arguments and results are arbitrary JSON-representable values.
// Non-serializable values (cyclic structures, channels, functions) are a
// programming error and surface as an encode failure, not a recoverable
// runtime condition.
//
// Decode validates the discriminant before interpreting the rest of the
// payload. An unknown discriminant signals protocol version skew, not
// request failure; callers drop such messages rather than failing the
// session.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies the wire message shape.
type Kind uint8

const (
	// KindRequest is a method invocation on a remote actor.
	KindRequest Kind = 1
	// KindReply is a successful reply to a prior request.
	KindReply Kind = 2
	// KindReplyErr is an error reply to a prior request.
	KindReplyErr Kind = 3
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindReply:
		return "Reply"
	case KindReplyErr:
		return "ReplyErr"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

var (
	// ErrInvalidMessage is returned when a message cannot be decoded.
	ErrInvalidMessage = errors.New("invalid wire message")
	// ErrUnknownType is returned when the type discriminant is not a known
	// kind. Receivers drop these messages.
	ErrUnknownType = errors.New("unknown wire message type")
)

// Message is the decoded form of a wire message. Fields beyond Kind and ID
// are populated according to the kind.
type Message struct {
	Kind Kind
	ID   string

	// Request fields.
	ProxyID string
	Method  string
	Args    []any

	// Reply fields. HasResult distinguishes a void reply from a reply
	// carrying an explicit null result.
	Result    any
	HasResult bool

	// ReplyErr field. A nil Err means the peer reported failure without
	// structured details.
	Err error
}

// RemoteError reconstructs a structured error received from the peer. Name,
// Message, and Stack match the sender's, so remote stack context is not
// lost when an error crosses the boundary.
type RemoteError struct {
	Name    string
	Message string
	Stack   string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Name != "" && e.Name != "Error" {
		return e.Name + ": " + e.Message
	}
	return e.Message
}

// wireError is the serialized error shape carried in the err field.
type wireError struct {
	IsError bool   `json:"isError"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

type requestEnvelope struct {
	Type    uint8  `json:"type"`
	ID      string `json:"id"`
	ProxyID string `json:"proxyId"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type replyEnvelope struct {
	Type uint8           `json:"type"`
	ID   string          `json:"id"`
	Res  json.RawMessage `json:"res,omitempty"`
}

type replyErrEnvelope struct {
	Type uint8           `json:"type"`
	ID   string          `json:"id"`
	Err  json.RawMessage `json:"err"`
}

type decodeEnvelope struct {
	Type    uint8           `json:"type"`
	ID      string          `json:"id"`
	ProxyID string          `json:"proxyId"`
	Method  string          `json:"method"`
	Args    json.RawMessage `json:"args"`
	Res     json.RawMessage `json:"res"`
	Err     json.RawMessage `json:"err"`
}

// EncodeRequest serializes a method invocation.
func EncodeRequest(callID, proxyID, method string, args []any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(requestEnvelope{
		Type:    uint8(KindRequest),
		ID:      callID,
		ProxyID: proxyID,
		Method:  method,
		Args:    args,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request %s: %w", callID, err)
	}
	return data, nil
}

// EncodeReply serializes a successful reply. When hasResult is false the res
// field is omitted entirely, signaling a void result.
func EncodeReply(callID string, result any, hasResult bool) ([]byte, error) {
	env := replyEnvelope{Type: uint8(KindReply), ID: callID}
	if hasResult {
		res, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode reply %s: %w", callID, err)
		}
		env.Res = res
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode reply %s: %w", callID, err)
	}
	return data, nil
}

// EncodeReplyErr serializes an error reply. A structured error serializes as
// {isError:true, name, message, stack}; a nil error serializes as an
// explicit null so "failed with no details" survives the boundary.
func EncodeReplyErr(callID string, callErr error) ([]byte, error) {
	raw, err := encodeError(callErr)
	if err != nil {
		return nil, fmt.Errorf("encode reply-err %s: %w", callID, err)
	}
	data, err := json.Marshal(replyErrEnvelope{
		Type: uint8(KindReplyErr),
		ID:   callID,
		Err:  raw,
	})
	if err != nil {
		return nil, fmt.Errorf("encode reply-err %s: %w", callID, err)
	}
	return data, nil
}

func encodeError(err error) (json.RawMessage, error) {
	if err == nil {
		return json.RawMessage("null"), nil
	}
	we := wireError{IsError: true, Name: "Error", Message: err.Error()}
	var remote *RemoteError
	if errors.As(err, &remote) {
		we.Name = remote.Name
		we.Message = remote.Message
		we.Stack = remote.Stack
	}
	return json.Marshal(we)
}

var jsonNull = []byte("null")

func decodeError(raw json.RawMessage) error {
	if len(raw) == 0 || bytes.Equal(raw, jsonNull) {
		return nil
	}
	var we wireError
	if err := json.Unmarshal(raw, &we); err == nil && we.IsError {
		return &RemoteError{Name: we.Name, Message: we.Message, Stack: we.Stack}
	}
	// Opaque, non-structured error payload: preserve its text.
	return &RemoteError{Name: "Error", Message: string(raw)}
}

// Decode deserializes a wire message. The type discriminant is validated
// before the rest of the payload is interpreted; unknown discriminants
// return ErrUnknownType.
func Decode(data []byte) (*Message, error) {
	var env decodeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	kind := Kind(env.Type)
	switch kind {
	case KindRequest, KindReply, KindReplyErr:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, env.Type)
	}

	if env.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}

	m := &Message{Kind: kind, ID: env.ID}

	switch kind {
	case KindRequest:
		if env.ProxyID == "" {
			return nil, fmt.Errorf("%w: request %s missing proxyId", ErrInvalidMessage, env.ID)
		}
		if env.Method == "" {
			return nil, fmt.Errorf("%w: request %s missing method", ErrInvalidMessage, env.ID)
		}
		m.ProxyID = env.ProxyID
		m.Method = env.Method
		if len(env.Args) > 0 {
			if err := json.Unmarshal(env.Args, &m.Args); err != nil {
				return nil, fmt.Errorf("%w: request %s args: %v", ErrInvalidMessage, env.ID, err)
			}
		}
	case KindReply:
		if len(env.Res) > 0 {
			m.HasResult = true
			if err := json.Unmarshal(env.Res, &m.Result); err != nil {
				return nil, fmt.Errorf("%w: reply %s result: %v", ErrInvalidMessage, env.ID, err)
			}
		}
	case KindReplyErr:
		m.Err = decodeError(env.Err)
	}

	return m, nil
}
