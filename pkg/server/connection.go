package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/shiv248/collabide/pkg/collab"
	"github.com/shiv248/collabide/pkg/logger"
)

// Connection is a single client WebSocket connection: one collab.Session
// plus the transport-specific plumbing (reading frames off the socket,
// writing the session's fan-out channels back to it). Binary frames and the
// legacy JSON envelope share the same Session underneath; only the
// encode/decode at the socket boundary differs.
type Connection struct {
	room    *collab.Room
	session *collab.Session
	userID  string
	conn    *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
	sendMu sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewConnection admits userID/username into room and sends the Sync Step1
// handshake frame Admit returns.
func NewConnection(room *collab.Room, userID, username string, conn *websocket.Conn, readTimeout, writeTimeout time.Duration) (*Connection, error) {
	ctx, cancel := context.WithCancel(context.Background())
	session, step1 := collab.Admit(room, userID, username)

	c := &Connection{
		room:         room,
		session:      session,
		userID:       userID,
		conn:         conn,
		ctx:          ctx,
		cancel:       cancel,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}

	if err := c.writeBinary(step1); err != nil {
		cancel()
		return nil, fmt.Errorf("send sync step1: %w", err)
	}

	return c, nil
}

// Handle runs the connection's read loop until the socket closes or ctx is
// done, always leaving the session's room on return.
func (c *Connection) Handle(ctx context.Context) error {
	defer c.cleanup()

	go c.pumpOutbound()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return c.ctx.Err()
		default:
		}

		readCtx, readCancel := context.WithTimeout(ctx, c.readTimeout)
		msgType, data, err := c.conn.Read(readCtx)
		readCancel()
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		switch msgType {
		case websocket.MessageBinary:
			if broadcast := c.session.HandleBinary(data); broadcast != nil {
				c.room.Broadcast(broadcast)
			}

		case websocket.MessageText:
			reply, broadcast := c.session.HandleText(data)
			if reply != nil {
				if err := c.writeJSON(reply); err != nil {
					logger.Error("collab: write reply to %s: %v", c.userID, err)
					c.cancel()
					return err
				}
			}
			if broadcast != nil {
				c.room.Broadcast(broadcast)
			}
		}
	}
}

// pumpOutbound drains both of the session's outbound channels and writes
// them to the socket: canonical frames verbatim as binary messages,
// legacy-JSON UserJoined/UserLeft announcements as text messages. Both are
// written to every connection, whichever transport its client speaks.
func (c *Connection) pumpOutbound() {
	frames := c.session.Frames()
	announcements := c.session.Announcements()

	for {
		select {
		case <-c.ctx.Done():
			return

		case frame, ok := <-frames:
			if !ok {
				c.cancel()
				return
			}
			if err := c.writeBinary(frame); err != nil {
				logger.Error("collab: write frame to %s: %v", c.userID, err)
				c.cancel()
				return
			}

		case envelope, ok := <-announcements:
			if !ok {
				continue
			}
			if err := c.writeJSON(envelope); err != nil {
				logger.Error("collab: write announcement to %s: %v", c.userID, err)
				c.cancel()
				return
			}
		}
	}
}

func (c *Connection) writeBinary(frame []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	writeCtx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageBinary, frame)
}

func (c *Connection) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	writeCtx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

// cleanup leaves the room. Called once, via Handle's deferred call.
func (c *Connection) cleanup() {
	logger.Info("collab: disconnect, user=%s room=%s", c.userID, c.room.ID())
	c.session.Close()
	c.cancel()
}
