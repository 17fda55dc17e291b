// Package wire owns the on-the-wire envelope, every client<->node
// request/response shape, the closed error-code set, and envelope
// (de)serialization (spec.md §4.H). It is not the only package touching
// wire bytes: internal/rpc encodes and decodes inter-node bodies with
// encoding/json itself, and sessions write envelopes with the websocket
// connection's WriteJSON.
package wire

import "encoding/json"

// Frame type names, client -> node.
const (
	TypeListRooms    = "list_rooms"
	TypeDiscoverRooms = "discover_rooms"
	TypeCreateRoom   = "create_room"
	TypeJoinRoom     = "join_room"
	TypeLeaveRoom    = "leave_room"
	TypeSendMessage  = "send_message"
	TypeDeleteRoom   = "delete_room"
)

// Frame type names, node -> client.
const (
	TypeRoomsList           = "rooms_list"
	TypeGlobalRoomsList     = "global_rooms_list"
	TypeRoomCreated         = "room_created"
	TypeJoinRoomSuccess     = "join_room_success"
	TypeJoinRoomError       = "join_room_error"
	TypeMemberJoined        = "member_joined"
	TypeMemberLeft          = "member_left"
	TypeMessageSent         = "message_sent"
	TypeNewMessage          = "new_message"
	TypeMessageError        = "message_error"
	TypeDeleteRoomInitiated = "delete_room_initiated"
	TypeDeleteRoomSuccess   = "delete_room_success"
	TypeDeleteRoomFailed    = "delete_room_failed"
	TypeRoomDeleted         = "room_deleted"

	// TypeError is a generic failure frame for malformed/unknown envelopes
	// that don't belong to any of the typed request flows above.
	TypeError = "error"
)

// Envelope is the single JSON shape exchanged in both directions over the
// client<->node text-framed socket: {"type": ..., "data": ...}. data is
// omitted entirely for request types that carry no payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode builds an Envelope carrying data marshaled to JSON.
func Encode(frameType string, data interface{}) (*Envelope, error) {
	if data == nil {
		return &Envelope{Type: frameType}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: frameType, Data: raw}, nil
}

// MustEncode behaves like Encode but panics on marshal failure. Reserved
// for call sites marshaling a struct whose shape is fully under this
// package's control and can never fail to encode.
func MustEncode(frameType string, data interface{}) *Envelope {
	env, err := Encode(frameType, data)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode parses raw bytes into an Envelope.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// DecodeData unmarshals the envelope's data field into dst.
func (e *Envelope) DecodeData(dst interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, dst)
}

// Marshal serializes the envelope to JSON bytes.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
