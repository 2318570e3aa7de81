package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mrjvadi/go-signal-server/signal"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 << 10
)

var ErrConnectionClosed = errors.New("transport: connection closed")

// wsConn is one websocket client. All writes go through the write pump.
type wsConn struct {
	ws       *websocket.Conn
	clientID string
	uniqueID string
	logger   *zap.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, clientID, uniqueID string, buffer int, logger *zap.Logger) *wsConn {
	return &wsConn{
		ws:       ws,
		clientID: clientID,
		uniqueID: uniqueID,
		logger:   logger.With(zap.String("client", clientID), zap.String("connection", uniqueID)),
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

func (c *wsConn) ClientID() string { return c.clientID }
func (c *wsConn) UniqueID() string { return c.uniqueID }

func (c *wsConn) Send(ctx context.Context, sig *signal.Signal) error {
	data, err := signal.Marshal(sig)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// readPump decodes inbound frames and hands them to fn until the socket
// fails or closes.
func (c *wsConn) readPump(fn func(*signal.Signal)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		sig, err := signal.Unmarshal(message)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		// the socket decides who is speaking, not the frame
		sig.Sender = c.clientID
		sig.SenderConnectionID = c.uniqueID
		fn(sig)
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return

		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("websocket write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
