// Package memory records published events in process for tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one recorded publish. Data holds the JSON encoding the Pub/Sub
// publisher would have sent.
type Message struct {
	Topic   string
	Payload any
	Data    []byte
}

// Publisher keeps every publish in order.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes payload like the Pub/Sub publisher does and records it.
// The returned id is the 1-based position of the message.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Message{Topic: topic, Payload: payload, Data: data})
	return fmt.Sprintf("mem-%d", len(p.messages)), nil
}

// Messages returns a copy of the recorded messages.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}
