package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-classroom/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

type Client struct {
	id     string
	conn   *websocket.Conn
	server *SignalServer
	log    *log.Logger
	user   types.User
	// room is the identifier of the room this connection is attached to,
	// empty until a join. Mutated only on the dispatch goroutine.
	room     string
	send     chan *ServerMessage
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, ss *SignalServer, l *log.Logger) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: ss,
		log:    l,
		user:   user,
		send:   make(chan *ServerMessage, 256),
		stop:   make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(time.Duration(pingInterval))
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.Timestamp = Now()

		c.forward(&msg)
	}
}

// forward hands the event to the dispatch loop. Events from one connection
// reach the loop in read order; if the loop is saturated the event is shed
// and the client told to retry.
func (c *Client) forward(msg *ClientMessage) {
	select {
	case c.server.eventChan <- msg:
	default:
		c.log.Println("event channel full, shedding message")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

// stopClient is safe to call from both the server teardown path and the
// client's own cleanup.
func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.server.deRegisterChan <- c
	c.stopClient()
}
