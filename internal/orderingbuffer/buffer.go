// Package orderingbuffer reorders a room's message stream on the client
// side by sequence_number (spec.md §4.G), so a client that receives
// messages out of order (a local broadcast racing a cross-node RPC
// relay) still displays them in the order the admin node assigned.
package orderingbuffer

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

const (
	defaultMaxBufferSize   = 1000
	defaultMaxDisplayedIDs = 5000
)

// Message is one sequenced entry a Buffer orders and deduplicates.
type Message struct {
	MessageID      uuid.UUID
	SequenceNumber int64
	Payload        interface{}
}

// Buffer holds one room's out-of-order message backlog, sorted by
// sequence_number, and yields contiguous runs as they become displayable.
type Buffer struct {
	mu                sync.Mutex
	messages          []Message
	lastDisplayedSeq  int64
	maxBufferSize     int
	maxDisplayedIDs   int
	seenIDs           map[uuid.UUID]struct{}
	displayedIDs      map[uuid.UUID]struct{}
	displayedIDsOrder []uuid.UUID
}

// New builds an empty Buffer. bufferCap and displayedIDCap fall back to
// the teacher-sized defaults when zero.
func New(bufferCap, displayedIDCap int) *Buffer {
	if bufferCap <= 0 {
		bufferCap = defaultMaxBufferSize
	}
	if displayedIDCap <= 0 {
		displayedIDCap = defaultMaxDisplayedIDs
	}
	return &Buffer{
		maxBufferSize:   bufferCap,
		maxDisplayedIDs: displayedIDCap,
		seenIDs:         make(map[uuid.UUID]struct{}),
		displayedIDs:    make(map[uuid.UUID]struct{}),
	}
}

// Add inserts msg at its sorted position. It returns false for a duplicate
// (by message ID or an already-displayed sequence number) or an invalid
// sequence number, mirroring the original buffer's add_message contract.
func (b *Buffer) Add(msg Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.SequenceNumber < 1 {
		return false
	}
	if _, seen := b.seenIDs[msg.MessageID]; seen {
		return false
	}
	if _, displayed := b.displayedIDs[msg.MessageID]; displayed {
		return false
	}
	if msg.SequenceNumber <= b.lastDisplayedSeq {
		return false
	}

	pos := b.findInsertPosition(msg.SequenceNumber)
	if pos < len(b.messages) && b.messages[pos].SequenceNumber == msg.SequenceNumber {
		return false
	}

	b.messages = append(b.messages, Message{})
	copy(b.messages[pos+1:], b.messages[pos:])
	b.messages[pos] = msg
	b.seenIDs[msg.MessageID] = struct{}{}

	b.enforceBufferLimit()
	return true
}

// GetNewMessages drains and returns every contiguous run of messages
// starting at last_displayed_seq+1, advancing the high-water mark.
func (b *Buffer) GetNewMessages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	expected := b.lastDisplayedSeq + 1
	var displayable []Message
	for _, msg := range b.messages {
		if msg.SequenceNumber == expected {
			displayable = append(displayable, msg)
			expected++
			continue
		}
		if msg.SequenceNumber > expected {
			break
		}
		// Lower than expected: already displayed or stale, skip.
	}

	if len(displayable) == 0 {
		return nil
	}

	b.lastDisplayedSeq = displayable[len(displayable)-1].SequenceNumber
	b.messages = b.messages[len(displayable):]

	for _, msg := range displayable {
		delete(b.seenIDs, msg.MessageID)
		b.displayedIDs[msg.MessageID] = struct{}{}
		b.displayedIDsOrder = append(b.displayedIDsOrder, msg.MessageID)
	}
	b.enforceDisplayedIDsLimit()

	return displayable
}

// HasGap reports whether the earliest buffered message cannot yet be
// displayed because an earlier sequence number is still missing.
func (b *Buffer) HasGap() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.messages) == 0 {
		return false
	}
	return b.messages[0].SequenceNumber > b.lastDisplayedSeq+1
}

// GetMissingSequences lists the sequence numbers expected but not yet
// buffered, between last_displayed_seq and the earliest buffered message.
func (b *Buffer) GetMissingSequences() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.messages) == 0 {
		return nil
	}
	firstSeq := b.messages[0].SequenceNumber
	expectedStart := b.lastDisplayedSeq + 1
	if firstSeq <= expectedStart {
		return nil
	}
	missing := make([]int64, 0, firstSeq-expectedStart)
	for seq := expectedStart; seq < firstSeq; seq++ {
		missing = append(missing, seq)
	}
	return missing
}

// BufferedCount returns how many messages are currently held, buffered
// because they precede a gap.
func (b *Buffer) BufferedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// Clear resets the buffer, used when leaving a room or disconnecting.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = nil
	b.lastDisplayedSeq = 0
	b.seenIDs = make(map[uuid.UUID]struct{})
	b.displayedIDs = make(map[uuid.UUID]struct{})
	b.displayedIDsOrder = nil
}

// SetLastDisplayedSeq seeds the high-water mark, so sequence numbers at or
// below seq are rejected by Add. Negative values are ignored.
func (b *Buffer) SetLastDisplayedSeq(seq int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq >= 0 {
		b.lastDisplayedSeq = seq
	}
}

func (b *Buffer) findInsertPosition(seq int64) int {
	return sort.Search(len(b.messages), func(i int) bool {
		return b.messages[i].SequenceNumber >= seq
	})
}

func (b *Buffer) enforceBufferLimit() {
	if len(b.messages) <= b.maxBufferSize {
		return
	}
	excess := len(b.messages) - b.maxBufferSize
	for _, msg := range b.messages[:excess] {
		delete(b.seenIDs, msg.MessageID)
	}
	b.messages = b.messages[excess:]
}

func (b *Buffer) enforceDisplayedIDsLimit() {
	if len(b.displayedIDsOrder) <= b.maxDisplayedIDs {
		return
	}
	excess := len(b.displayedIDsOrder) - b.maxDisplayedIDs
	for _, id := range b.displayedIDsOrder[:excess] {
		delete(b.displayedIDs, id)
	}
	b.displayedIDsOrder = b.displayedIDsOrder[excess:]
}
