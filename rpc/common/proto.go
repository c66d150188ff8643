package common

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/ValentinKolb/pKV/lib/write"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	CF     db.CF  `json:"cf,omitempty"`      // Used for: Put, Delete, DeleteRange, Get
	Key    []byte `json:"key,omitempty"`     // Used for: Put, Delete, DeleteRange (start), Get
	EndKey []byte `json:"end_key,omitempty"` // Used for: DeleteRange (exclusive end)
	Value  []byte `json:"value,omitempty"`   // Used for: Put (request), Get (response)

	// Response only fields
	Index uint64            `json:"index,omitempty"` // Used for: write responses, the log index the command was applied at
	Ok    bool              `json:"ok,omitempty"`    // Used for: Get responses
	Code  partition.RetCode `json:"code,omitempty"`  // RetCSuccess if no error, otherwise the code of the partition error
	Err   string            `json:"err,omitempty"`   // Empty if no error, otherwise contains the error message

	// Meta carries encoded ops (Write request) or the JSON encoded partition info (Info response)
	Meta []byte `json:"meta,omitempty"`
}

// AsError converts an error response back into the error the server reported.
// Partition errors keep their code so callers can decide whether to retry.
func (m *Message) AsError() error {
	if m.Err == "" && m.MsgType != MsgTError {
		return nil
	}
	if m.Code != partition.RetCSuccess {
		return &partition.Error{Code: m.Code, Msg: m.Err}
	}
	return fmt.Errorf("rpc error: %s", m.Err)
}

// setErr fills the error fields of a response
func (m *Message) setErr(err error) *Message {
	if err == nil {
		return m
	}
	m.Err = err.Error()
	var pErr *partition.Error
	if errors.As(err, &pErr) {
		m.Code = pErr.Code
		m.Err = pErr.Msg
	} else {
		m.Code = partition.RetCInternalError
	}
	return m
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewPutRequest creates a new Put request
func NewPutRequest(cf db.CF, key, value []byte) *Message {
	return &Message{
		MsgType: MsgTKVPut,
		CF:      cf,
		Key:     key,
		Value:   value,
	}
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(cf db.CF, key []byte) *Message {
	return &Message{
		MsgType: MsgTKVDelete,
		CF:      cf,
		Key:     key,
	}
}

// NewDeleteRangeRequest creates a new DeleteRange request for [start, end)
func NewDeleteRangeRequest(cf db.CF, start, end []byte) *Message {
	return &Message{
		MsgType: MsgTKVDeleteRange,
		CF:      cf,
		Key:     start,
		EndKey:  end,
	}
}

// NewWriteRequest creates a new Write request, the ops are encoded with the write codec.
// The header is left empty, the server fills it from the partition.
func NewWriteRequest(ops []write.Op) *Message {
	return &Message{
		MsgType: MsgTKVWrite,
		Meta:    write.Encode(write.Header{}, ops),
	}
}

// Ops decodes the ops of a Write request
func (m *Message) Ops() ([]write.Op, error) {
	_, ops, err := write.Decode(m.Meta)
	if err != nil {
		return nil, fmt.Errorf("invalid write request: %w", err)
	}
	return ops, nil
}

// NewWriteResponse creates the response for Put, Delete, DeleteRange and Write requests
func NewWriteResponse(msgType MessageType, res write.Result, err error) *Message {
	msg := &Message{
		MsgType: msgType,
		Index:   res.Index,
	}
	return msg.setErr(err)
}

// NewGetRequest creates a new Get request
func NewGetRequest(cf db.CF, key []byte) *Message {
	return &Message{
		MsgType: MsgTKVGet,
		CF:      cf,
		Key:     key,
	}
}

// NewGetResponse creates a new Get response
func NewGetResponse(value []byte, ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTKVGet,
		Ok:      ok,
		Value:   value,
	}
	return msg.setErr(err)
}

// NewInfoRequest creates a new Info request
func NewInfoRequest() *Message {
	return &Message{MsgType: MsgTKVInfo}
}

// NewInfoResponse creates a new Info response, info is stored as JSON in Meta
func NewInfoResponse(info any, err error) *Message {
	msg := &Message{MsgType: MsgTKVInfo}
	if err != nil {
		return msg.setErr(err)
	}
	b, mErr := json.Marshal(info)
	if mErr != nil {
		return msg.setErr(mErr)
	}
	msg.Meta = b
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err error) *Message {
	msg := &Message{MsgType: MsgTError}
	return msg.setErr(err)
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTKVPut:
		return "put"
	case MsgTKVDelete:
		return "delete"
	case MsgTKVDeleteRange:
		return "deleteRange"
	case MsgTKVWrite:
		return "write"
	case MsgTKVGet:
		return "get"
	case MsgTKVInfo:
		return "info"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// IsWrite reports whether the message type goes through the write pipeline
func (t MessageType) IsWrite() bool {
	switch t {
	case MsgTKVPut, MsgTKVDelete, MsgTKVDeleteRange, MsgTKVWrite:
		return true
	default:
		return false
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	// Convert string back to MessageType
	switch s {
	case "put":
		*t = MsgTKVPut
	case "delete":
		*t = MsgTKVDelete
	case "deleteRange":
		*t = MsgTKVDeleteRange
	case "write":
		*t = MsgTKVWrite
	case "get":
		*t = MsgTKVGet
	case "info":
		*t = MsgTKVInfo
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	case "unknown":
		*t = MsgTUnknown
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// IStore operations

	MsgTKVPut         // Insert or update a key
	MsgTKVDelete      // Delete a key
	MsgTKVDeleteRange // Delete the keys in [Key, EndKey)
	MsgTKVWrite       // Atomically apply a batch of encoded ops
	MsgTKVGet         // Get a value by key
	MsgTKVInfo        // Partition information
)
