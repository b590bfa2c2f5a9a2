package pushhub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Session is one connected push-hub subscriber.
type Session struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu       sync.RWMutex
	topics   map[Topic]bool
	swapIDs  map[string]bool
	lastSeen time.Time
	alive    bool
}

func newSession(id string, conn *websocket.Conn, hub *Hub) *Session {
	return &Session{
		id:       id,
		conn:     conn,
		send:     make(chan []byte, 64),
		hub:      hub,
		topics:   make(map[Topic]bool),
		swapIDs:  make(map[string]bool),
		lastSeen: time.Now(),
		alive:    true,
	}
}

// touch records activity from the client, resetting its staleness clock.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) isStale(now time.Time, ttl time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.lastSeen) > ttl
}

func (s *Session) isAlive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alive
}

func (s *Session) markDead() {
	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()
}

func (s *Session) subscribeTopics(raw []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range raw {
		t := Topic(r)
		if validTopics[t] {
			s.topics[t] = true
		}
	}
}

func (s *Session) unsubscribeTopics(raw []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range raw {
		delete(s.topics, Topic(r))
	}
}

func (s *Session) subscribeSwap(swapID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swapIDs[swapID] = true
}

func (s *Session) unsubscribeSwap(swapID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.swapIDs, swapID)
}

// matches reports whether this session should receive a broadcast tagged
// with topic and/or swapID, per §4.9: "broadcast routed to subscribers
// matching topic OR specific swap_id subscription".
func (s *Session) matches(topic Topic, swapID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topic != "" && s.topics[topic] {
		return true
	}
	if swapID != "" && s.swapIDs[swapID] {
		return true
	}
	return false
}

// trySend enqueues data without blocking. Returns false (and marks the
// session dead) if the session's outbound buffer is full, so one slow
// subscriber never stalls the hub's broadcast loop, per §4.9.
func (s *Session) trySend(data []byte) bool {
	select {
	case s.send <- data:
		return true
	default:
		s.markDead()
		return false
	}
}
