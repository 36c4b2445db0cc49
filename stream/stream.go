// Package stream fans job and restoration events out to Server-Sent Events
// clients.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	MaxConnections     = 1000
	ClientBuffer       = 128
	KeepAliveInterval  = 30 * time.Second
	CleanupInterval    = 60 * time.Second
	HubBroadcastBuffer = 1024
)

// Message is one SSE event. Type becomes the event name.
type Message struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

type client struct {
	id       string
	lastSeen atomic.Int64
	sent     atomic.Int64
}

// Stats is a snapshot of hub counters.
type Stats struct {
	Active            int64 `json:"active_connections"`
	TotalMessages     int64 `json:"total_messages"`
	MaxConnections    int   `json:"max_connections"`
	DroppedBroadcasts int64 `json:"dropped_broadcasts"`
	DroppedClientMsgs int64 `json:"dropped_client_msgs"`
	Rejected          int64 `json:"rejected_connections"`
}

type hub struct {
	clients           sync.Map // chan Message -> *client
	active            atomic.Int64
	totalMessages     atomic.Int64
	droppedBroadcasts atomic.Int64
	droppedClientMsgs atomic.Int64
	rejected          atomic.Int64
	broadcast         chan Message
	shutdown          chan struct{}
	shutdownOnce      sync.Once
}

var h *hub

func init() {
	h = &hub{
		broadcast: make(chan Message, HubBroadcastBuffer),
		shutdown:  make(chan struct{}),
	}
	go h.run()
	go h.cleanup()
}

// GetStats returns the current hub counters.
func GetStats() Stats {
	return Stats{
		Active:            h.active.Load(),
		TotalMessages:     h.totalMessages.Load(),
		MaxConnections:    MaxConnections,
		DroppedBroadcasts: h.droppedBroadcasts.Load(),
		DroppedClientMsgs: h.droppedClientMsgs.Load(),
		Rejected:          h.rejected.Load(),
	}
}

func addClient(c chan Message, remoteAddr string) bool {
	if h.active.Load() >= MaxConnections {
		h.rejected.Add(1)
		log.Warn().Str("remote", remoteAddr).Msg("stream at capacity, rejecting client")
		return false
	}
	cl := &client{id: fmt.Sprintf("%d-%s", time.Now().UnixNano(), remoteAddr)}
	cl.lastSeen.Store(time.Now().Unix())
	h.clients.Store(c, cl)
	n := h.active.Add(1)
	log.Debug().Str("client", cl.id).Int64("active", n).Msg("stream client connected")
	return true
}

func removeClient(c chan Message) {
	v, ok := h.clients.LoadAndDelete(c)
	if !ok {
		return
	}
	n := h.active.Add(-1)
	log.Debug().Str("client", v.(*client).id).Int64("active", n).Msg("stream client disconnected")
}

// Broadcast queues msg for every client. It never blocks; when the hub is
// backed up the message is dropped and counted.
func Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.droppedBroadcasts.Add(1)
	}
}

// Publish marshals v as JSON and broadcasts it under eventType.
func Publish(eventType string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	Broadcast(Message{Type: eventType, Msg: string(data)})
	return nil
}

func (h *hub) run() {
	for {
		select {
		case msg := <-h.broadcast:
			h.clients.Range(func(key, value any) bool {
				c, cl := key.(chan Message), value.(*client)
				select {
				case c <- msg:
					cl.lastSeen.Store(time.Now().Unix())
					cl.sent.Add(1)
					h.totalMessages.Add(1)
				default:
					h.droppedClientMsgs.Add(1)
				}
				return true
			})
		case <-h.shutdown:
			return
		}
	}
}

func (h *hub) cleanup() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.removeStale(time.Now().Unix() - int64(2*CleanupInterval.Seconds()))
		case <-h.shutdown:
			return
		}
	}
}

// removeStale drops clients not seen since the cutoff (unix seconds).
func (h *hub) removeStale(cutoff int64) int {
	var stale []chan Message
	h.clients.Range(func(key, value any) bool {
		if value.(*client).lastSeen.Load() < cutoff {
			stale = append(stale, key.(chan Message))
		}
		return true
	})
	for _, c := range stale {
		removeClient(c)
	}
	if len(stale) > 0 {
		log.Info().Int("count", len(stale)).Msg("removed stale stream clients")
	}
	return len(stale)
}

// Shutdown disconnects every client and stops the hub.
func Shutdown() {
	h.shutdownOnce.Do(func() {
		close(h.shutdown)
		h.clients.Range(func(key, _ any) bool {
			removeClient(key.(chan Message))
			return true
		})
		log.Info().Msg("stream hub stopped")
	})
}

// Handler serves the SSE endpoint.
func Handler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	c := make(chan Message, ClientBuffer)
	if !addClient(c, r.RemoteAddr) {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}
	defer removeClient(c)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()

	if _, err := io.WriteString(w, formatSSE(Message{Type: "connected", Msg: "{}"})); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.shutdown:
			return
		case msg := <-c:
			if _, err := io.WriteString(w, formatSSE(msg)); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func formatSSE(msg Message) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", msg.Type, msg.Msg)
}
