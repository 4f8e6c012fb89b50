package realtime

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/tao-chat/backend/internal/config"
	"github.com/zhouzirui/tao-chat/backend/internal/service/presence"
)

// client is the transport half of one connection. The coordinator queues
// events through Deliver and a single writer goroutine drains them, so a slow
// browser never blocks a broadcast.
type client struct {
	id   string
	conn *websocket.Conn
	cfg  config.WebSocketConfig
	send chan presence.Event
	done chan struct{}
	once sync.Once
}

func newClient(id string, conn *websocket.Conn, cfg config.WebSocketConfig) *client {
	return &client{
		id:   id,
		conn: conn,
		cfg:  cfg,
		send: make(chan presence.Event, cfg.SendBuffer),
		done: make(chan struct{}),
	}
}

// Deliver implements presence.Outbox. A full queue marks the client as a slow
// consumer and closes it.
func (c *client) Deliver(evt presence.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- evt:
		return true
	case <-c.done:
		return false
	default:
		log.Printf("[websocket] send buffer full, closing %s", c.id)
		c.close()
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// writePump owns every write on the connection, including pings.
func (c *client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteJSON(encodeEvent(evt)); err != nil {
				log.Printf("[websocket] write %s to %s failed: %v", evt.Name(), c.id, err)
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
