package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/IRCAD/sight-sub074/natsclient"
)

type mockSub struct {
	id      int
	handler func(context.Context, []byte)
}

// MockNATSClient is an in-memory stand-in for natsclient.Client's core
// publish/subscribe methods. Delivery is synchronous. It is safe for
// concurrent use.
type MockNATSClient struct {
	mu            sync.RWMutex
	messages      map[string][][]byte
	subscriptions map[string][]mockSub
	nextID        int
	closed        bool
}

// NewMockNATSClient creates a new mock NATS client.
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{
		messages:      make(map[string][][]byte),
		subscriptions: make(map[string][]mockSub),
	}
}

// Publish records data and delivers it to the subscribers of subject.
func (c *MockNATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return natsclient.ErrNotConnected
	}
	c.messages[subject] = append(c.messages[subject], data)

	// handlers run outside the lock so they may publish or subscribe
	subs := make([]mockSub, len(c.subscriptions[subject]))
	copy(subs, c.subscriptions[subject])
	c.mu.Unlock()

	for _, s := range subs {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		s.handler(msgCtx, data)
		cancel()
	}
	return nil
}

// Subscribe registers handler on subject.
func (c *MockNATSClient) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (natsclient.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, natsclient.ErrNotConnected
	}
	c.nextID++
	c.subscriptions[subject] = append(c.subscriptions[subject], mockSub{id: c.nextID, handler: handler})
	return &mockSubscription{client: c, subject: subject, id: c.nextID}, nil
}

type mockSubscription struct {
	client  *MockNATSClient
	subject string
	id      int
	once    sync.Once
}

func (s *mockSubscription) Unsubscribe() error {
	s.once.Do(func() {
		c := s.client
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.subscriptions[s.subject]
		for i, sub := range subs {
			if sub.id == s.id {
				c.subscriptions[s.subject] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(c.subscriptions[s.subject]) == 0 {
			delete(c.subscriptions, s.subject)
		}
	})
	return nil
}

// Subscribers returns the number of live subscriptions on subject.
func (c *MockNATSClient) Subscribers(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions[subject])
}

// TotalSubscribers returns the number of live subscriptions on all subjects.
func (c *MockNATSClient) TotalSubscribers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, subs := range c.subscriptions {
		n += len(subs)
	}
	return n
}

// GetMessages returns a copy of all messages published on subject.
func (c *MockNATSClient) GetMessages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := c.messages[subject]
	if msgs == nil {
		return nil
	}
	result := make([][]byte, len(msgs))
	copy(result, msgs)
	return result
}

// GetMessageCount returns the number of messages on a subject.
func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages[subject])
}

// Close closes the mock client. Later calls fail with ErrNotConnected.
func (c *MockNATSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
