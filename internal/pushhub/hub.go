package pushhub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/klingon-tech/htlc-relayer/internal/storage"
	"github.com/klingon-tech/htlc-relayer/pkg/logging"
)

const (
	defaultHeartbeat = 15 * time.Second
	defaultIdleTTL   = 30 * time.Second
	reapInterval     = 10 * time.Second
)

// SwapReader is the slice of *storage.Storage the push hub needs to answer
// get_swap/get_swaps queries.
type SwapReader interface {
	Load(swapID string) (*storage.Swap, error)
	ListByStatus(status *storage.Status, limit int) ([]*storage.Swap, error)
}

type broadcastMsg struct {
	envelope Envelope
	topic    Topic
	swapID   string
}

// Config tunes the hub's heartbeat and idle-session timeout.
type Config struct {
	Heartbeat   time.Duration // default 15s
	IdleTimeout time.Duration // default 30s
}

// Hub fans canonical swap lifecycle events out to subscribed sessions.
// Registration, unregistration, and broadcast all flow through one
// goroutine (Run), avoiding the lock-juggling the same pattern needs when
// broadcast iterates sessions directly under a mutex.
type Hub struct {
	repo SwapReader
	log  *logging.Logger

	heartbeat   time.Duration
	idleTimeout time.Duration

	mu       sync.RWMutex
	sessions map[*Session]bool

	register   chan *Session
	unregister chan *Session
	broadcast  chan broadcastMsg

	done chan struct{}
}

// NewHub constructs a Hub. Call Run in its own goroutine before accepting
// connections.
func NewHub(repo SwapReader, cfg Config) *Hub {
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTTL
	}

	return &Hub{
		repo:        repo,
		log:         logging.GetDefault().Component("pushhub"),
		heartbeat:   heartbeat,
		idleTimeout: idleTimeout,
		sessions:    make(map[*Session]bool),
		register:    make(chan *Session),
		unregister:  make(chan *Session),
		broadcast:   make(chan broadcastMsg, 256),
		done:        make(chan struct{}),
	}
}

// Run is the hub's single event loop: registration, unregistration,
// broadcast dispatch, the periodic heartbeat, and stale-session reaping.
func (h *Hub) Run() {
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	reap := time.NewTicker(reapInterval)
	defer reap.Stop()

	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			h.sessions[s] = true
			h.mu.Unlock()
			h.log.Debug("session connected", "session_id", s.id, "sessions", h.count())

		case s := <-h.unregister:
			h.removeSession(s)

		case msg := <-h.broadcast:
			h.dispatch(msg)

		case <-heartbeat.C:
			h.sendHeartbeat()

		case <-reap.C:
			h.reapStale()

		case <-h.done:
			return
		}
	}
}

// Close stops the hub's event loop.
func (h *Hub) Close() {
	close(h.done)
}

func (h *Hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// SubscriberCount implements health.SubscriberCounter.
func (h *Hub) SubscriberCount() int {
	return h.count()
}

func (h *Hub) removeSession(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; ok {
		delete(h.sessions, s)
		close(s.send)
	}
	h.mu.Unlock()
	h.log.Debug("session disconnected", "session_id", s.id, "sessions", h.count())
}

func (h *Hub) dispatch(msg broadcastMsg) {
	data, err := json.Marshal(msg.envelope)
	if err != nil {
		h.log.Error("marshal envelope failed", "error", err)
		return
	}

	h.mu.RLock()
	var dead []*Session
	for s := range h.sessions {
		if !s.matches(msg.topic, msg.swapID) {
			continue
		}
		if !s.trySend(data) {
			dead = append(dead, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range dead {
		h.log.Warn("session buffer full, disconnecting", "session_id", s.id)
		h.removeSession(s)
	}
}

func (h *Hub) sendHeartbeat() {
	env := Envelope{Type: TypeHeartbeat, Timestamp: time.Now().Unix()}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}

	h.mu.RLock()
	var dead []*Session
	for s := range h.sessions {
		if !s.trySend(data) {
			dead = append(dead, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range dead {
		h.removeSession(s)
	}
}

// reapStale disconnects sessions that haven't sent any message (including a
// pong) in more than idleTimeout, per §4.9.
func (h *Hub) reapStale() {
	now := time.Now()

	h.mu.RLock()
	var stale []*Session
	for s := range h.sessions {
		if s.isStale(now, h.idleTimeout) || !s.isAlive() {
			stale = append(stale, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range stale {
		h.log.Debug("reaping stale session", "session_id", s.id)
		h.removeSession(s)
	}
}

// broadcastEnvelope submits a message for fan-out, non-blocking: a full
// broadcast queue drops the message rather than stalling whatever
// coordinator or observer goroutine is publishing it.
func (h *Hub) broadcastEnvelope(msgType MessageType, topic Topic, swapID string, data interface{}) {
	msg := broadcastMsg{
		envelope: Envelope{Type: msgType, Data: data, Timestamp: time.Now().Unix()},
		topic:    topic,
		swapID:   swapID,
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("broadcast queue full, dropping message", "type", msgType)
	}
}

// NotifySwap implements coordinator.Notifier: it translates the
// coordinator's lifecycle event names into push-hub message types and
// routes them to both the swap_updates topic and that swap's own
// subscribers.
func (h *Hub) NotifySwap(eventType string, swap *storage.Swap) {
	msgType := swapEventMessageType(eventType)
	h.broadcastEnvelopeToSwap(msgType, TopicSwapUpdates, swap)
}

func (h *Hub) broadcastEnvelopeToSwap(msgType MessageType, topic Topic, swap *storage.Swap) {
	h.broadcastEnvelope(msgType, topic, swap.SwapID, swap)
}

func swapEventMessageType(eventType string) MessageType {
	switch eventType {
	case "swap_created":
		return TypeSwapCreated
	case "swap_status_changed":
		return TypeSwapStatusChanged
	case "swap_error":
		return TypeSwapError
	default:
		return TypeSwapUpdated
	}
}

// BroadcastHTLCEvent publishes a raw chain-level HTLC event to the
// htlc_events topic, for subscribers that want observer-level detail
// instead of (or in addition to) swap-level lifecycle updates.
func (h *Hub) BroadcastHTLCEvent(data interface{}) {
	h.broadcastEnvelope(TypeSwapUpdated, TopicHTLCEvents, "", data)
}

// BroadcastWithdrawal publishes a withdrawal-executor result to the
// withdrawal_events topic.
func (h *Hub) BroadcastWithdrawal(data interface{}) {
	h.broadcastEnvelope(TypeSwapUpdated, TopicWithdrawalEvents, "", data)
}

// BroadcastSystemEvent publishes a relayer-level operational event (e.g.
// observer restart, executor misconfiguration) to the system_events topic.
func (h *Hub) BroadcastSystemEvent(data interface{}) {
	h.broadcastEnvelope(TypeSwapUpdated, TopicSystemEvents, "", data)
}
