package hub

import (
	"encoding/json"
	"log"
	"sync"
)

// Subscription filters broadcast frames. A customer view subscribes to
// its ticket number; a staff dashboard subscribes to a service or, with
// an empty filter, to everything. A client that has not subscribed (or
// has unsubscribed) receives nothing.
type Subscription struct {
	TicketNumber int
	ServiceID    string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscribed   bool
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action       string `json:"action"`
	TicketNumber int    `json:"ticket_number"`
	ServiceID    string `json:"service_id"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
	client.Subscribed = true
}

// ClearSubscription stops delivery entirely. An unsubscribed client is
// not the same as one subscribed with an empty filter, which matches
// every frame.
func (h *Hub) ClearSubscription(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = Subscription{}
	client.Subscribed = false
}

func (h *Hub) Broadcast(payload []byte, meta Subscription) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !client.Subscribed || !match(client.Subscription, meta) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("drop message for client %s", client.ID)
		}
	}
}

func match(sub Subscription, meta Subscription) bool {
	if sub.TicketNumber != 0 && meta.TicketNumber != sub.TicketNumber {
		return false
	}
	if sub.ServiceID != "" && meta.ServiceID != sub.ServiceID {
		return false
	}
	return true
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
