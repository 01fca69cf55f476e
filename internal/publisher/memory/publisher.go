// Package memory records run announcements in process, encoded the same way
// the Pub/Sub publisher encodes them, for tests and dry runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/breeder-harvester/internal/harvest"
)

// Message is one recorded announcement.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Publisher keeps every announcement it is handed.
type Publisher struct {
	mu       sync.RWMutex
	topic    string
	messages []Message
}

// New returns a Publisher that tags every message with topic.
func New(topic string) *Publisher {
	return &Publisher{topic: topic}
}

// Publish encodes payload as JSON and records it. Payloads that cannot be
// encoded are rejected, as they would be on a real topic.
func (p *Publisher) Publish(_ context.Context, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("%s-%d", p.topic, len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: p.topic, Data: data})
	return id, nil
}

// Messages returns a copy of the recorded announcements.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	for i, m := range p.messages {
		m.Data = append([]byte(nil), m.Data...)
		out[i] = m
	}
	return out
}

// Summaries decodes every recorded announcement as a run summary, oldest
// first.
func (p *Publisher) Summaries() ([]harvest.Summary, error) {
	msgs := p.Messages()
	out := make([]harvest.Summary, 0, len(msgs))
	for _, m := range msgs {
		var s harvest.Summary
		if err := json.Unmarshal(m.Data, &s); err != nil {
			return nil, fmt.Errorf("decode %s: %w", m.ID, err)
		}
		out = append(out, s)
	}
	return out, nil
}
