package mocks

import (
	"context"
	"sync"
)

// MockPublisher captures published events for assertions in tests.
type MockPublisher struct {
	mu sync.Mutex

	// For tracking calls in tests
	Published       []PublishedEvent
	PublishErr      error
	PublishCallback func(ctx context.Context, topic, key string, event any) error
}

// PublishedEvent records parameters passed to Publish
type PublishedEvent struct {
	Topic string
	Key   string
	Event any
}

// NewMockPublisher creates a new MockPublisher
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, topic, key string, event any) error {
	if m.PublishCallback != nil {
		if err := m.PublishCallback(ctx, topic, key, event); err != nil {
			return err
		}
	} else if m.PublishErr != nil {
		return m.PublishErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, PublishedEvent{Topic: topic, Key: key, Event: event})
	return nil
}

// ByTopic returns the published events for a topic, in order.
func (m *MockPublisher) ByTopic(topic string) []PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []PublishedEvent
	for _, p := range m.Published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}
