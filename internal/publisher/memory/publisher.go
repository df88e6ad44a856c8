// Package memory contains an in-memory publisher for tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/toonfeed/crawler/internal/comic"
)

// Publisher stores published crawl events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []comic.CrawlEvent
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event.
func (p *Publisher) Publish(_ context.Context, event comic.CrawlEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (p *Publisher) Events() []comic.CrawlEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]comic.CrawlEvent, len(p.events))
	copy(out, p.events)
	return out
}
