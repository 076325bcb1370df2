package streaming

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// SubscriptionMessage is what clients send to manage their subscriptions
type SubscriptionMessage struct {
	Action   string `json:"action"` // "subscribe" or "unsubscribe"
	Workload string `json:"workload"`
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			break
		}

		var sub SubscriptionMessage
		if err := json.Unmarshal(message, &sub); err != nil {
			c.logger.Warn("Invalid subscription message", zap.Error(err))
			continue
		}
		c.handleSubscription(sub)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleSubscription(sub SubscriptionMessage) {
	if sub.Workload == "" {
		return
	}

	switch sub.Action {
	case "subscribe":
		c.mu.Lock()
		c.workloads[sub.Workload] = true
		c.mu.Unlock()
		c.hub.SubscribeClient(c, sub.Workload)
		c.logger.Debug("Subscribed to workload console", zap.String("workload", sub.Workload))

	case "unsubscribe":
		c.mu.Lock()
		delete(c.workloads, sub.Workload)
		c.mu.Unlock()
		c.hub.UnsubscribeClient(c, sub.Workload)
		c.logger.Debug("Unsubscribed from workload console", zap.String("workload", sub.Workload))

	default:
		c.logger.Warn("Unknown subscription action", zap.String("action", sub.Action))
	}
}

// Subscribe subscribes this client to a workload without a client message.
// Used when the stream endpoint is opened for a specific workload.
func (c *Client) Subscribe(name string) {
	c.mu.Lock()
	c.workloads[name] = true
	c.mu.Unlock()
	c.hub.SubscribeClient(c, name)
}
