package wire

import (
	"time"

	"github.com/google/uuid"
)

// Client -> node request payloads (spec.md §6). list_rooms and
// discover_rooms carry no data.

type CreateRoomRequest struct {
	RoomName    string `json:"room_name"`
	CreatorID   string `json:"creator_id"`
	Description string `json:"description,omitempty"`
}

type JoinRoomRequest struct {
	RoomID   uuid.UUID `json:"room_id"`
	Username string    `json:"username"`
}

type LeaveRoomRequest struct {
	RoomID   uuid.UUID `json:"room_id"`
	Username string    `json:"username"`
}

type SendMessageRequest struct {
	RoomID   uuid.UUID `json:"room_id"`
	Username string    `json:"username"`
	Content  string    `json:"content"`
}

type DeleteRoomRequest struct {
	RoomID   uuid.UUID `json:"room_id"`
	Username string    `json:"username"`
}

// Node -> client response / notification payloads (spec.md §6).

type RoomSummary struct {
	RoomID      uuid.UUID `json:"room_id"`
	RoomName    string    `json:"room_name"`
	Description string    `json:"description,omitempty"`
	MemberCount int       `json:"member_count"`
	AdminNode   string    `json:"admin_node"`
	CreatorID   string    `json:"creator_id,omitempty"`
}

type RoomsListResponse struct {
	Rooms      []RoomSummary `json:"rooms"`
	TotalCount int           `json:"total_count"`
}

type GlobalRoomsListResponse struct {
	Rooms           []RoomSummary `json:"rooms"`
	TotalCount      int           `json:"total_count"`
	NodesQueried    []string      `json:"nodes_queried"`
	NodesAvailable  []string      `json:"nodes_available"`
	NodesUnavailable []string     `json:"nodes_unavailable"`
}

type RoomCreatedResponse struct {
	RoomID    uuid.UUID `json:"room_id"`
	RoomName  string    `json:"room_name"`
	AdminNode string    `json:"admin_node"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

type JoinRoomSuccessResponse struct {
	RoomID      uuid.UUID `json:"room_id"`
	RoomName    string    `json:"room_name"`
	Description string    `json:"description,omitempty"`
	Members     []string  `json:"members"`
	MemberCount int       `json:"member_count"`
	AdminNode   string    `json:"admin_node"`
}

type JoinRoomErrorResponse struct {
	RoomID    uuid.UUID `json:"room_id"`
	Error     string    `json:"error"`
	ErrorCode ErrorCode `json:"error_code"`
}

type MemberEventResponse struct {
	RoomID      uuid.UUID `json:"room_id"`
	Username    string    `json:"username"`
	MemberCount int       `json:"member_count"`
	Timestamp   time.Time `json:"timestamp"`
	Reason      string    `json:"reason,omitempty"`
}

type MessageSentResponse struct {
	RoomID         uuid.UUID `json:"room_id"`
	MessageID      uuid.UUID `json:"message_id"`
	SequenceNumber int64     `json:"sequence_number"`
	Timestamp      time.Time `json:"timestamp"`
}

type NewMessageResponse struct {
	RoomID         uuid.UUID `json:"room_id"`
	MessageID      uuid.UUID `json:"message_id"`
	Username       string    `json:"username"`
	Content        string    `json:"content"`
	SequenceNumber int64     `json:"sequence_number"`
	Timestamp      time.Time `json:"timestamp"`
}

type MessageErrorResponse struct {
	RoomID    uuid.UUID `json:"room_id"`
	Error     string    `json:"error"`
	ErrorCode ErrorCode `json:"error_code"`
}

type DeleteRoomInitiatedResponse struct {
	RoomID        uuid.UUID  `json:"room_id"`
	Initiator     string     `json:"initiator"`
	Status        string     `json:"status"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
}

type DeleteRoomSuccessResponse struct {
	RoomID        uuid.UUID `json:"room_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Message       string    `json:"message"`
}

type DeleteRoomFailedResponse struct {
	RoomID        uuid.UUID  `json:"room_id"`
	Reason        string     `json:"reason"`
	ErrorCode     ErrorCode  `json:"error_code"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
}

// GenericErrorResponse covers malformed or unrecognized envelopes that
// precede any room-specific context (bad JSON, unknown type).
type GenericErrorResponse struct {
	Message   string    `json:"message"`
	ErrorCode ErrorCode `json:"error_code"`
}

type RoomDeletedResponse struct {
	RoomID        uuid.UUID  `json:"room_id"`
	RoomName      string     `json:"room_name"`
	Message       string     `json:"message"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
}
