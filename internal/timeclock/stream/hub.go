// Package stream fans live presence updates out to websocket subscribers of
// an entry. With Redis configured every replica publishes to a per-entry
// channel and delivers only what it receives back from the pattern
// subscription, so each subscriber sees each update once whichever replica
// accepted the heartbeat.
package stream

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix  = "timeclock:"
	channelSuffix  = ":presence"
	channelPattern = channelPrefix + "*" + channelSuffix
	sendBuffer     = 64
)

type Hub struct {
	redis  redis.UniversalClient
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}

	ready     chan struct{}
	readyOnce sync.Once
}

// Client is one subscriber. Send is closed by Unregister.
type Client struct {
	EntryID string
	Send    chan []byte
}

type Option func(*Hub)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// NewHub builds a hub. A nil redis client keeps fan-out in process.
func NewHub(redisClient redis.UniversalClient, opts ...Option) *Hub {
	h := &Hub{
		redis:   redisClient,
		logger:  slog.Default(),
		clients: map[string]map[*Client]struct{}{},
		ready:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if redisClient == nil {
		h.markReady()
	}
	return h
}

func (h *Hub) markReady() {
	h.readyOnce.Do(func() { close(h.ready) })
}

// Ready is closed once broadcasts will reach local subscribers.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

func (h *Hub) Register(entryID string) *Client {
	client := &Client{
		EntryID: entryID,
		Send:    make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[entryID] == nil {
		h.clients[entryID] = map[*Client]struct{}{}
	}
	h.clients[entryID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entryClients, ok := h.clients[client.EntryID]
	if !ok {
		return
	}
	if _, ok := entryClients[client]; !ok {
		return
	}
	delete(entryClients, client)
	if len(entryClients) == 0 {
		delete(h.clients, client.EntryID)
	}
	close(client.Send)
}

// Subscribers reports how many local clients follow entryID.
func (h *Hub) Subscribers(entryID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[entryID])
}

// Broadcast sends payload to every subscriber of entryID. Slow subscribers
// whose buffer is full miss the update.
func (h *Hub) Broadcast(ctx context.Context, entryID string, payload []byte) {
	if h.redis == nil {
		h.deliver(entryID, payload)
		return
	}
	if err := h.redis.Publish(ctx, channel(entryID), payload).Err(); err != nil {
		h.logger.WarnContext(ctx, "presence publish failed, delivering locally", "entry_id", entryID, "error", err)
		h.deliver(entryID, payload)
	}
}

func (h *Hub) deliver(entryID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[entryID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

// Run relays the Redis pattern subscription to local subscribers until ctx
// is cancelled. Without Redis it only waits for ctx.
func (h *Hub) Run(ctx context.Context) error {
	if h.redis == nil {
		<-ctx.Done()
		return nil
	}
	pubsub := h.redis.PSubscribe(ctx, channelPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	h.markReady()

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if entryID := entryIDFromChannel(msg.Channel); entryID != "" {
				h.deliver(entryID, []byte(msg.Payload))
			}
		}
	}
}

func channel(entryID string) string {
	return channelPrefix + entryID + channelSuffix
}

func entryIDFromChannel(ch string) string {
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(ch, channelPrefix), channelSuffix)
}
