// Package events delivers artifact-created notifications to the presentation
// layer and to in-process listeners.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/prdesk/internal/domain"
)

// TypeArtifactCreated is the event type emitted for each recorded artifact.
const TypeArtifactCreated = "artifact.created"

// Event is one notification for a session.
type Event struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Artifact  domain.Artifact `json:"artifact"`
	Timestamp time.Time       `json:"timestamp"`
}

// Listener receives every event synchronously.
type Listener func(Event)

// Bus fans events out to per-session subscribers and global listeners.
// Subscriber channels are buffered; a full subscriber misses the event
// rather than stalling the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]chan Event // sessionID -> subscription ID -> channel
	listeners   []Listener
	nextSubID   int64
	eventID     int64
	bufferSize  int
}

// NewBus creates a bus whose subscriber channels hold bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Bus{
		subscribers: make(map[string]map[int64]chan Event),
		bufferSize:  bufferSize,
	}
}

// OnEvent registers an in-process listener.
func (b *Bus) OnEvent(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Subscribe returns a channel of events for sessionID and a cancel func.
// The channel is closed by cancel or by CloseSession.
func (b *Bus) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, b.bufferSize)

	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	if _, ok := b.subscribers[sessionID]; !ok {
		b.subscribers[sessionID] = make(map[int64]chan Event)
	}
	b.subscribers[sessionID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.unsubscribe(sessionID, id) })
	}
}

func (b *Bus) unsubscribe(sessionID string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sessionID]
	if !ok {
		return
	}
	if ch, exists := subs[id]; exists {
		close(ch)
		delete(subs, id)
	}
	if len(subs) == 0 {
		delete(b.subscribers, sessionID)
	}
}

// ArtifactCreated publishes an artifact-created event.
func (b *Bus) ArtifactCreated(a domain.Artifact) {
	b.Publish(Event{
		Type:      TypeArtifactCreated,
		SessionID: a.SessionID,
		Artifact:  a,
		Timestamp: time.Now().UTC(),
	})
}

// Publish stamps ev with an ID and delivers it.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	b.eventID++
	ev.ID = b.eventID
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.Unlock()

	for _, l := range listeners {
		l(ev)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for subID, ch := range b.subscribers[ev.SessionID] {
		select {
		case ch <- ev:
		default:
			slog.Warn("Event subscriber full, dropping event",
				"session_id", ev.SessionID,
				"subscription_id", subID,
				"event_id", ev.ID,
			)
		}
	}
}

// Subscribers returns the number of live subscriptions for sessionID.
func (b *Bus) Subscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sessionID])
}

// CloseSession ends every subscription of sessionID.
func (b *Bus) CloseSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers[sessionID] {
		close(ch)
	}
	delete(b.subscribers, sessionID)
}
