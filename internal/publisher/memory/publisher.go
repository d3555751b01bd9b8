// Package memory contains an in-memory event publisher used when no Pub/Sub
// topic is configured, and in tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/calvin1011/watchtower/internal/intel"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	err      error
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes subsequent publishes return err.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Events returns the recorded payloads that are intel events, optionally
// filtered by type.
func (p *Publisher) Events(eventType string) []intel.Event {
	var out []intel.Event
	for _, msg := range p.Messages() {
		ev, ok := msg.Payload.(intel.Event)
		if !ok {
			continue
		}
		if eventType == "" || ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
