package dashboard

import (
	"sync"

	"github.com/coder/websocket"
)

// subscriberQueue is the number of undelivered messages a subscriber may
// hold before it is dropped as too slow.
const subscriberQueue = 64

// subscriber is one connected dashboard. Its queue starts collecting
// broadcasts at registration, before the connect snapshot is written, so a
// change committed while the snapshot is built still reaches the client.
type subscriber struct {
	conn  *websocket.Conn
	queue chan []byte

	// lagged is closed when the subscriber fell behind and was dropped.
	lagged chan struct{}
	once   sync.Once
}

func (sub *subscriber) drop() {
	sub.once.Do(func() { close(sub.lagged) })
}

// hub tracks subscribers and fans encoded messages out to their queues.
type hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*subscriber]struct{})}
}

// add registers conn and returns its subscriber and the new total.
func (h *hub) add(conn *websocket.Conn) (*subscriber, int) {
	sub := &subscriber{
		conn:   conn,
		queue:  make(chan []byte, subscriberQueue),
		lagged: make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub] = struct{}{}
	return sub, len(h.subs)
}

// remove unregisters sub. It reports false if sub was already gone.
func (h *hub) remove(sub *subscriber) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return len(h.subs), false
	}
	delete(h.subs, sub)
	return len(h.subs), true
}

// publish queues data for every subscriber without blocking. Subscribers
// whose queue is full are dropped; they reconnect and get a fresh snapshot.
func (h *hub) publish(data []byte) (dropped int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.queue <- data:
		default:
			delete(h.subs, sub)
			sub.drop()
			dropped++
		}
	}
	return dropped
}

// closeAll closes every subscriber connection and empties the hub.
func (h *hub) closeAll(code websocket.StatusCode, reason string) {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for sub := range subs {
		_ = sub.conn.Close(code, reason)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
