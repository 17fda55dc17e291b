// Package chatclient is a minimal, non-interactive WebSocket client used to
// drive end-to-end scenarios against a node in tests (spec.md §8). It is
// explicitly not a TUI or CLI — both are out of scope (spec.md §1) — it
// exists only to dial a node, issue requests, and feed the resulting
// new_message frames through an internal/orderingbuffer.Buffer per room so
// tests can assert on display order rather than wire order.
package chatclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gochatmesh/noded/internal/logging"
	"github.com/gochatmesh/noded/internal/orderingbuffer"
	"github.com/gochatmesh/noded/internal/wire"
)

// Client is one end-to-end WebSocket session against a node.
type Client struct {
	conn   *websocket.Conn
	logger *logging.Logger

	bufferCap      int
	displayedIDCap int

	mu      sync.Mutex
	buffers map[uuid.UUID]*orderingbuffer.Buffer

	incoming chan *wire.Envelope
	readErr  chan error

	// OnMessageReady is invoked, in sequence order, for every message a
	// room's ordering buffer yields once its gap closes.
	OnMessageReady func(roomID uuid.UUID, resp wire.NewMessageResponse)
	// OnGapDetected is invoked whenever a just-buffered message leaves a
	// room's buffer with a hole before it.
	OnGapDetected func(roomID uuid.UUID, missing []int64)
	// OnFrame is invoked for every inbound frame, before any type-specific
	// handling, so tests can assert on member_joined/member_left/delete_*
	// notifications without a dedicated callback per frame type.
	OnFrame func(env *wire.Envelope)
}

// Dial connects to a node's client endpoint and starts the read loop.
func Dial(ctx context.Context, url string, bufferCap, displayedIDCap int, logger *logging.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		conn:           conn,
		logger:         logger,
		bufferCap:      bufferCap,
		displayedIDCap: displayedIDCap,
		buffers:        make(map[uuid.UUID]*orderingbuffer.Buffer),
		incoming:       make(chan *wire.Envelope, 64),
		readErr:        make(chan error, 1),
	}
	go c.readLoop()
	return c, nil
}

// Close shuts down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer close(c.incoming)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.readErr <- err
			return
		}
		env, err := wire.Decode(raw)
		if err != nil {
			c.logger.Warn(context.Background(), "dropping malformed frame", "error", err)
			continue
		}
		c.dispatch(env)
		c.incoming <- env
	}
}

func (c *Client) dispatch(env *wire.Envelope) {
	if c.OnFrame != nil {
		c.OnFrame(env)
	}
	if env.Type != wire.TypeNewMessage {
		return
	}
	var resp wire.NewMessageResponse
	if err := env.DecodeData(&resp); err != nil {
		return
	}
	buf := c.bufferFor(resp.RoomID)
	buf.Add(orderingbuffer.Message{MessageID: resp.MessageID, SequenceNumber: resp.SequenceNumber, Payload: resp})

	if buf.HasGap() && c.OnGapDetected != nil {
		c.OnGapDetected(resp.RoomID, buf.GetMissingSequences())
	}
	for _, m := range buf.GetNewMessages() {
		if c.OnMessageReady != nil {
			c.OnMessageReady(resp.RoomID, m.Payload.(wire.NewMessageResponse))
		}
	}
}

func (c *Client) bufferFor(roomID uuid.UUID) *orderingbuffer.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.buffers[roomID]
	if !ok {
		buf = orderingbuffer.New(c.bufferCap, c.displayedIDCap)
		c.buffers[roomID] = buf
	}
	return buf
}

func (c *Client) send(frameType string, data interface{}) error {
	env, err := wire.Encode(frameType, data)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(env)
}

// awaitType blocks until a frame of one of wantTypes arrives, or ctx is done.
func (c *Client) awaitType(ctx context.Context, wantTypes ...string) (*wire.Envelope, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-c.readErr:
			return nil, err
		case env, ok := <-c.incoming:
			if !ok {
				return nil, fmt.Errorf("connection closed")
			}
			for _, want := range wantTypes {
				if env.Type == want {
					return env, nil
				}
			}
		}
	}
}

// ListRooms requests this node's locally administered rooms.
func (c *Client) ListRooms(ctx context.Context) (*wire.RoomsListResponse, error) {
	if err := c.send(wire.TypeListRooms, nil); err != nil {
		return nil, err
	}
	env, err := c.awaitType(ctx, wire.TypeRoomsList)
	if err != nil {
		return nil, err
	}
	var resp wire.RoomsListResponse
	if err := env.DecodeData(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DiscoverRooms requests the global room listing fanned out across peers.
func (c *Client) DiscoverRooms(ctx context.Context) (*wire.GlobalRoomsListResponse, error) {
	if err := c.send(wire.TypeDiscoverRooms, nil); err != nil {
		return nil, err
	}
	env, err := c.awaitType(ctx, wire.TypeGlobalRoomsList)
	if err != nil {
		return nil, err
	}
	var resp wire.GlobalRoomsListResponse
	if err := env.DecodeData(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateRoom creates a room administered by the connected node.
func (c *Client) CreateRoom(ctx context.Context, roomName, creatorID, description string) (*wire.RoomCreatedResponse, error) {
	if err := c.send(wire.TypeCreateRoom, wire.CreateRoomRequest{RoomName: roomName, CreatorID: creatorID, Description: description}); err != nil {
		return nil, err
	}
	env, err := c.awaitType(ctx, wire.TypeRoomCreated, wire.TypeError)
	if err != nil {
		return nil, err
	}
	if env.Type == wire.TypeError {
		return nil, decodeGenericError(env)
	}
	var resp wire.RoomCreatedResponse
	if err := env.DecodeData(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JoinRoom joins roomID as username. It does not seed the room's ordering
// buffer: the backfilled new_message frames that follow join_room_success
// go through the buffer like live ones, so a backfill that does not start
// at sequence 1 shows up as a gap.
func (c *Client) JoinRoom(ctx context.Context, roomID uuid.UUID, username string) (*wire.JoinRoomSuccessResponse, error) {
	if err := c.send(wire.TypeJoinRoom, wire.JoinRoomRequest{RoomID: roomID, Username: username}); err != nil {
		return nil, err
	}
	env, err := c.awaitType(ctx, wire.TypeJoinRoomSuccess, wire.TypeJoinRoomError)
	if err != nil {
		return nil, err
	}
	if env.Type == wire.TypeJoinRoomError {
		var errResp wire.JoinRoomErrorResponse
		_ = env.DecodeData(&errResp)
		return nil, wire.NewError(errResp.ErrorCode, errResp.Error)
	}
	var resp wire.JoinRoomSuccessResponse
	if err := env.DecodeData(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LeaveRoom leaves roomID as username.
func (c *Client) LeaveRoom(roomID uuid.UUID, username string) error {
	return c.send(wire.TypeLeaveRoom, wire.LeaveRoomRequest{RoomID: roomID, Username: username})
}

// SendMessage sends content to roomID as username and waits for the
// synchronous message_sent acknowledgement.
func (c *Client) SendMessage(ctx context.Context, roomID uuid.UUID, username, content string) (*wire.MessageSentResponse, error) {
	if err := c.send(wire.TypeSendMessage, wire.SendMessageRequest{RoomID: roomID, Username: username, Content: content}); err != nil {
		return nil, err
	}
	env, err := c.awaitType(ctx, wire.TypeMessageSent, wire.TypeMessageError)
	if err != nil {
		return nil, err
	}
	if env.Type == wire.TypeMessageError {
		var errResp wire.MessageErrorResponse
		_ = env.DecodeData(&errResp)
		return nil, wire.NewError(errResp.ErrorCode, errResp.Error)
	}
	var resp wire.MessageSentResponse
	if err := env.DecodeData(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteRoom requests deletion of roomID as username and waits for the
// 2PC outcome.
func (c *Client) DeleteRoom(ctx context.Context, roomID uuid.UUID, username string) (*wire.DeleteRoomSuccessResponse, error) {
	if err := c.send(wire.TypeDeleteRoom, wire.DeleteRoomRequest{RoomID: roomID, Username: username}); err != nil {
		return nil, err
	}
	env, err := c.awaitType(ctx, wire.TypeDeleteRoomSuccess, wire.TypeDeleteRoomFailed)
	if err != nil {
		return nil, err
	}
	if env.Type == wire.TypeDeleteRoomFailed {
		var failResp wire.DeleteRoomFailedResponse
		_ = env.DecodeData(&failResp)
		return nil, wire.NewError(failResp.ErrorCode, failResp.Reason)
	}
	var resp wire.DeleteRoomSuccessResponse
	if err := env.DecodeData(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func decodeGenericError(env *wire.Envelope) error {
	var resp wire.GenericErrorResponse
	if err := env.DecodeData(&resp); err != nil {
		return fmt.Errorf("malformed error frame: %w", err)
	}
	return wire.NewError(resp.ErrorCode, resp.Message)
}
