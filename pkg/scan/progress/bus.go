// Package progress fans scan progress events out to interested
// subscribers, typically websocket sessions.
package progress

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/securescan/securescan/db"
)

// Event is one progress update for a scan. Progress runs 0-100 and only
// reaches 100 on completion. EstimatedTimeRemaining is in seconds, -1 when
// unknown.
type Event struct {
	ScanID                 string        `json:"scanId"`
	Status                 db.ScanStatus `json:"status"`
	Progress               int           `json:"progress"`
	PagesScanned           int           `json:"pagesScanned"`
	TotalPages             int           `json:"totalPages"`
	VulnerabilitiesFound   int           `json:"vulnerabilitiesFound"`
	FormsFound             int           `json:"formsFound"`
	EndpointsTested        int           `json:"endpointsTested"`
	EstimatedTimeRemaining int           `json:"estimatedTimeRemaining"`
	StartTime              time.Time     `json:"startTime"`
	CurrentStage           string        `json:"currentStage"`
	Vulnerabilities        []db.Finding  `json:"vulnerabilities,omitempty"`
	Error                  string        `json:"error,omitempty"`
}

const subscriberBuffer = 32

// Bus is an in-process publish/subscribe hub keyed by scan id. The latest
// event per scan is cached so a subscriber joining mid-scan catches up
// immediately.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]map[chan Event]struct{}
	latest      map[string]Event
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: map[string]map[chan Event]struct{}{},
		latest:      map[string]Event{},
	}
}

// Subscribe registers interest in a scan's events. If the scan has already
// published, the latest event is delivered on the returned channel right
// away.
func (b *Bus) Subscribe(scanID string) chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[scanID] == nil {
		b.subscribers[scanID] = map[chan Event]struct{}{}
	}
	b.subscribers[scanID][ch] = struct{}{}
	if latest, ok := b.latest[scanID]; ok {
		ch <- latest
	}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(scanID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[scanID]
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	if len(subs) == 0 {
		delete(b.subscribers, scanID)
	}
	close(ch)
}

// Publish caches the event and delivers it to every subscriber of the
// scan. Slow subscribers with a full buffer miss the event rather than
// blocking the publisher.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest[event.ScanID] = event
	for ch := range b.subscribers[event.ScanID] {
		select {
		case ch <- event:
		default:
			log.Debug().Str("scan", event.ScanID).Msg("Dropping progress event for slow subscriber")
		}
	}
}

// Forget drops the cached event for a scan. Called once a scan reaches a
// terminal state and its record is persisted.
func (b *Bus) Forget(scanID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.latest, scanID)
}
