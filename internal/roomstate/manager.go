package roomstate

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gochatmesh/noded/internal/wire"
)

// Manager owns every room this node administers, plus this node's view
// of peer health and any 2PC transactions it is coordinating or
// participating in. All operations are safe for concurrent use.
type Manager struct {
	nodeID string

	mu                   sync.RWMutex
	rooms                map[uuid.UUID]*Room
	deletionTransactions map[uuid.UUID]*DeletionTransaction
	preparedTransactions map[uuid.UUID]*PreparedTransaction
	nodeHealth           map[string]*NodeHealth

	messageBufferCap int
}

// New builds a Manager for nodeID. messageBufferCap bounds how many
// recent messages each room keeps in memory for join-time backfill.
func New(nodeID string, messageBufferCap int) *Manager {
	return &Manager{
		nodeID:               nodeID,
		rooms:                make(map[uuid.UUID]*Room),
		deletionTransactions: make(map[uuid.UUID]*DeletionTransaction),
		preparedTransactions: make(map[uuid.UUID]*PreparedTransaction),
		nodeHealth:           make(map[string]*NodeHealth),
		messageBufferCap:     messageBufferCap,
	}
}

// CreateRoom creates a new room administered by this node. Room names
// must be unique across the rooms this node hosts.
func (m *Manager) CreateRoom(roomName, creatorID, description string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, room := range m.rooms {
		if room.RoomName == roomName {
			return nil, wire.NewError(wire.ErrInvalidRequest, fmt.Sprintf("room with name %q already exists", roomName))
		}
	}

	room := &Room{
		RoomID:      uuid.New(),
		RoomName:    roomName,
		Description: description,
		CreatorID:   creatorID,
		AdminNode:   m.nodeID,
		CreatedAt:   time.Now().UTC(),
		State:       RoomActive,
		Members:     make(map[string]*MemberInfo),
	}
	m.rooms[room.RoomID] = room
	return room, nil
}

// GetRoom returns the room, or nil if this node does not administer it.
func (m *Manager) GetRoom(roomID uuid.UUID) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID]
}

// ListRooms returns every room administered by this node.
func (m *Manager) ListRooms() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		out = append(out, room)
	}
	return out
}

// DeleteRoom removes a room unconditionally. Used only by the 2PC
// commit path once every participant has voted READY.
func (m *Manager) DeleteRoom(roomID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[roomID]; !ok {
		return false
	}
	delete(m.rooms, roomID)
	return true
}

// RoomCount returns how many rooms this node administers.
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// CanOperateOnRoom reports whether roomID is ACTIVE, i.e. not mid-deletion
// (spec.md §4.A can_operate_on_room). Joins consult it; AddMessage checks
// the same state itself. Leaves do not consult it and proceed in any state.
func (m *Manager) CanOperateOnRoom(roomID uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return false
	}
	return room.State == RoomActive
}

// AddMember admits a user to a room under this node's administration.
// nodeID is the node the member's own client socket is attached to,
// which may differ from the room's admin node.
func (m *Manager) AddMember(roomID uuid.UUID, username, nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return false
	}
	now := time.Now().UTC()
	room.Members[username] = &MemberInfo{
		Username:     username,
		NodeID:       nodeID,
		JoinedAt:     now,
		LastActivity: now,
	}
	if nodeID != m.nodeID {
		if _, tracked := m.nodeHealth[nodeID]; !tracked {
			m.nodeHealth[nodeID] = &NodeHealth{NodeID: nodeID, LastHeartbeat: now, Status: NodeHealthy}
		}
	}
	return true
}

// RemoveMember removes a user from a room. Reports whether the member
// was present.
func (m *Manager) RemoveMember(roomID uuid.UUID, username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return false
	}
	if _, present := room.Members[username]; !present {
		return false
	}
	delete(room.Members, username)
	return true
}

// MemberInfo returns a copy of a member's tracking record, or nil.
func (m *Manager) MemberInfo(roomID uuid.UUID, username string) *MemberInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	info, ok := room.Members[username]
	if !ok {
		return nil
	}
	cp := *info
	return &cp
}

// TouchMemberActivity refreshes a member's last-activity timestamp, used
// on every send_message to keep the stale-member sweep accurate.
func (m *Manager) TouchMemberActivity(roomID uuid.UUID, username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return false
	}
	info, ok := room.Members[username]
	if !ok {
		return false
	}
	info.LastActivity = time.Now().UTC()
	return true
}

// MembersByNode returns the usernames in roomID connected through nodeID.
func (m *Manager) MembersByNode(roomID uuid.UUID, nodeID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	return room.MembersByNode(nodeID)
}

// GetStaleMembers returns members of roomID whose last activity is older
// than timeout, for the inactivity sweeper.
func (m *Manager) GetStaleMembers(roomID uuid.UUID, timeout time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	var stale []string
	for username, info := range room.Members {
		if now.Sub(info.LastActivity) > timeout {
			stale = append(stale, username)
		}
	}
	return stale
}

// RemoveAllMembersFromNode drops every member connected through nodeID
// across every room this node administers, used when a peer is declared
// FAILED. Returns the (roomID, username) pairs removed.
func (m *Manager) RemoveAllMembersFromNode(nodeID string) []struct {
	RoomID   uuid.UUID
	Username string
} {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []struct {
		RoomID   uuid.UUID
		Username string
	}
	for roomID, room := range m.rooms {
		for _, username := range room.MembersByNode(nodeID) {
			delete(room.Members, username)
			removed = append(removed, struct {
				RoomID   uuid.UUID
				Username string
			}{RoomID: roomID, Username: username})
		}
	}
	return removed
}

// AddMessage appends a message to roomID's buffer, assigning the next
// sequence number. The room must be ACTIVE and username must already be a
// member.
func (m *Manager) AddMessage(roomID uuid.UUID, username, content string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, wire.NewError(wire.ErrRoomNotFound, "room not found")
	}
	if room.State != RoomActive {
		return nil, wire.NewError(wire.ErrInvalidState, "room is being deleted")
	}
	if _, member := room.Members[username]; !member {
		return nil, wire.NewError(wire.ErrNotMember, "user is not a member of this room")
	}

	room.MessageCounter++
	msg := Message{
		MessageID:      uuid.New(),
		Username:       username,
		Content:        content,
		SequenceNumber: room.MessageCounter,
		Timestamp:      time.Now().UTC(),
	}
	room.Messages = append(room.Messages, msg)
	if len(room.Messages) > m.messageBufferCap {
		room.Messages = room.Messages[len(room.Messages)-m.messageBufferCap:]
	}
	return &msg, nil
}

// RecentMessages returns a copy of roomID's buffered messages, used to
// backfill a member who just joined.
func (m *Manager) RecentMessages(roomID uuid.UUID) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Message, len(room.Messages))
	copy(out, room.Messages)
	return out
}

// ---- Peer node health ----

// RecordNodeHeartbeatSuccess marks nodeID healthy.
func (m *Manager) RecordNodeHeartbeatSuccess(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.nodeHealth[nodeID]
	if !ok {
		m.nodeHealth[nodeID] = &NodeHealth{NodeID: nodeID, LastHeartbeat: time.Now().UTC(), Status: NodeHealthy}
		return
	}
	h.RecordSuccess()
}

// RecordNodeHeartbeatFailure records a missed heartbeat and reports
// whether nodeID is now FAILED, i.e. its failure streak has reached
// maxFailures. It keeps reporting true for every further failure.
func (m *Manager) RecordNodeHeartbeatFailure(nodeID string, maxFailures int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.nodeHealth[nodeID]
	if !ok {
		h = &NodeHealth{NodeID: nodeID, LastHeartbeat: time.Now().UTC(), Status: NodeHealthy}
		m.nodeHealth[nodeID] = h
	}
	return h.RecordFailure(maxFailures)
}

// NodeHealthOf returns a copy of a peer's health record, or nil.
func (m *Manager) NodeHealthOf(nodeID string) *NodeHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.nodeHealth[nodeID]
	if !ok {
		return nil
	}
	cp := *h
	return &cp
}

// AllMemberNodes returns every peer node with at least one member in a
// room this node administers.
func (m *Manager) AllMemberNodes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, room := range m.rooms {
		for _, info := range room.Members {
			if info.NodeID != m.nodeID {
				seen[info.NodeID] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for nodeID := range seen {
		out = append(out, nodeID)
	}
	return out
}

// RoomsWithNodeMembers returns the IDs of rooms that have at least one
// member connected through nodeID.
func (m *Manager) RoomsWithNodeMembers(nodeID string) []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []uuid.UUID
	for roomID, room := range m.rooms {
		for _, info := range room.Members {
			if info.NodeID == nodeID {
				out = append(out, roomID)
				break
			}
		}
	}
	return out
}
