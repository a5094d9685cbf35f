package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	EventPosition = "position"
	EventAlert    = "alert"

	channelPrefix  = "livetrack:"
	channelSuffix  = ":broadcast"
	channelPattern = channelPrefix + "*" + channelSuffix
)

// Event is the envelope written to websocket subscribers.
type Event struct {
	Type string          `json:"type"`
	UID  string          `json:"uid"`
	Data json.RawMessage `json:"data"`
}

// Hub fans live events out to websocket subscribers of a pilot. With Redis
// configured, events go through pub/sub so every daemon instance sees them;
// otherwise delivery is local only.
type Hub struct {
	redis  *redis.Client
	logger *slog.Logger
	pubsub *redis.PubSub
	done   chan struct{}

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

type Client struct {
	UID  string
	Send chan []byte
}

func NewHub(redisClient *redis.Client, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		redis:   redisClient,
		logger:  logger.With("component", "stream"),
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		ctx := context.Background()
		pubsub := redisClient.PSubscribe(ctx, channelPattern)
		if _, err := pubsub.Receive(ctx); err != nil {
			h.logger.Warn("redis subscribe failed; delivering locally", "error", err)
			_ = pubsub.Close()
			h.redis = nil
			return h
		}
		h.pubsub = pubsub
		h.done = make(chan struct{})
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(uid string) *Client {
	client := &Client{
		UID:  uid,
		Send: make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[uid] == nil {
		h.clients[uid] = map[*Client]struct{}{}
	}
	h.clients[uid][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.clients[client.UID]; ok {
		if _, ok := set[client]; !ok {
			return
		}
		delete(set, client)
		if len(set) == 0 {
			delete(h.clients, client.UID)
		}
		close(client.Send)
	}
}

// Subscribers reports how many local clients follow uid.
func (h *Hub) Subscribers(uid string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[uid])
}

// Broadcast publishes an uploaded live document for uid.
func (h *Hub) Broadcast(uid string, payload []byte) {
	h.publish(Event{Type: EventPosition, UID: uid, Data: payload})
}

// BroadcastJSON marshals v and publishes it as an event of the given type.
func (h *Hub) BroadcastJSON(uid, eventType string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encode stream event", "type", eventType, "error", err)
		return
	}
	h.publish(Event{Type: eventType, UID: uid, Data: data})
}

func (h *Hub) publish(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encode stream event", "type", ev.Type, "error", err)
		return
	}

	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(ev.UID), msg).Err()
		if err == nil {
			return
		}
		h.logger.Warn("redis publish failed; delivering locally", "uid", ev.UID, "error", err)
	}
	h.deliver(ev.UID, msg)
}

func (h *Hub) deliver(uid string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[uid] {
		select {
		case client.Send <- msg:
		default:
		}
	}
}

func (h *Hub) subscribeRedis() {
	defer close(h.done)
	for msg := range h.pubsub.Channel() {
		uid := uidFromChannel(msg.Channel)
		if uid == "" {
			continue
		}
		h.deliver(uid, []byte(msg.Payload))
	}
}

// Close stops the Redis subscription. The Redis client itself is left open.
func (h *Hub) Close() {
	if h.pubsub == nil {
		return
	}
	_ = h.pubsub.Close()
	<-h.done
}

func redisChannel(uid string) string {
	return channelPrefix + uid + channelSuffix
}

// livetrack:{uid}:broadcast
func uidFromChannel(ch string) string {
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	if len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
