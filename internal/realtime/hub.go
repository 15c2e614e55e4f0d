// Package realtime fans location and booking events out to websocket
// subscribers. Delivery is best effort: a subscriber that cannot keep up is
// dropped.
package realtime

import (
	"sync"
	"time"

	"carrent-backend/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 5 * time.Second
	// sendBuffer is how many events may queue for one subscriber.
	sendBuffer = 32
)

// Hub keeps the websocket subscribers of each topic.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*subscriber]struct{})}
}

// subscriber owns a websocket connection. Only its writer goroutine writes
// to conn; send is closed when the subscriber is removed.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Subscribe registers conn on topic and starts its writer. The returned func
// unregisters and closes it.
func (h *Hub) Subscribe(topic string, conn *websocket.Conn) func() {
	sub := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(topic, sub)
	go h.writeLoop(topic, sub)
	logger.Debug("ws: subscribed", "topic", topic, "remote", conn.RemoteAddr().String())

	return func() { h.remove(topic, sub) }
}

func (h *Hub) add(topic string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
}

// remove is safe to call more than once; only the first call closes send.
func (h *Hub) remove(topic string, sub *subscriber) {
	h.mu.Lock()
	subs, ok := h.topics[topic]
	if ok {
		_, ok = subs[sub]
	}
	if ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
		close(sub.send)
	}
	h.mu.Unlock()
	if ok {
		sub.conn.Close()
	}
}

func (h *Hub) writeLoop(topic string, sub *subscriber) {
	for payload := range sub.send {
		if err := write(sub.conn, payload); err != nil {
			logger.Warn("ws: dropping subscriber after failed write", "topic", topic, "error", err)
			h.remove(topic, sub)
			return
		}
	}
}

func write(conn *websocket.Conn, payload []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Serve subscribes conn to topic and blocks until the peer goes away.
// Inbound messages are ignored.
func (h *Hub) Serve(topic string, conn *websocket.Conn) {
	unsubscribe := h.Subscribe(topic, conn)
	defer unsubscribe()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			logger.Debug("ws: subscriber left", "topic", topic, "error", err)
			return
		}
	}
}

// Publish queues payload for every subscriber of topic without waiting on
// the network. Subscribers whose queue is full are dropped; Publish itself
// never fails.
func (h *Hub) Publish(topic string, payload []byte) error {
	var slow []*subscriber
	h.mu.RLock()
	for sub := range h.topics[topic] {
		select {
		case sub.send <- payload:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		logger.Warn("ws: dropping subscriber that cannot keep up", "topic", topic)
		h.remove(topic, sub)
	}
	return nil
}

// Subscribers reports how many connections listen on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
