package twopc

import (
	"github.com/google/uuid"

	"github.com/gochatmesh/noded/internal/roomstate"
)

// Participant answers the three 2PC phases on a node that isn't the
// room's admin but has a local member in it.
type Participant struct {
	rooms    *roomstate.Manager
	notifier Notifier
}

// NewParticipant builds a Participant.
func NewParticipant(rooms *roomstate.Manager, notifier Notifier) *Participant {
	return &Participant{rooms: rooms, notifier: notifier}
}

// Prepare handles an incoming PREPARE.
func (p *Participant) Prepare(roomID, transactionID uuid.UUID, coordinator string) (vote string, reason string) {
	v, reason := p.rooms.PrepareForDeletion(roomID, transactionID, coordinator)
	return string(v), reason
}

// Commit handles an incoming COMMIT, deleting the local room copy if one
// exists and notifying local subscribers. The room name is empty in the
// notification when this node holds no copy of the room.
func (p *Participant) Commit(roomID, transactionID uuid.UUID) bool {
	roomName := ""
	if room := p.rooms.GetRoom(roomID); room != nil {
		roomName = room.RoomName
	}
	ok := p.rooms.CommitDeletionParticipant(roomID, transactionID)
	p.notifier.NotifyRoomDeleted(roomID, roomName, transactionID)
	return ok
}

// Rollback handles an incoming ROLLBACK, restoring the room to ACTIVE.
func (p *Participant) Rollback(roomID, transactionID uuid.UUID) bool {
	return p.rooms.RollbackDeletionParticipant(roomID, transactionID)
}
