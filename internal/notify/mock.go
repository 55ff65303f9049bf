package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"viewpulse/internal/model"
)

type Delivery struct {
	Recipient string
	Message   string
}

// MockSender records deliveries in memory. Recipients listed in FailFor fail.
// A non-zero Delay holds every send that long unless ctx ends first.
type MockSender struct {
	Kind    model.Channel
	FailFor map[string]bool
	Delay   time.Duration

	mu   sync.Mutex
	sent []Delivery
}

func NewMockSender(channel model.Channel, failing ...string) *MockSender {
	fail := map[string]bool{}
	for _, r := range failing {
		fail[r] = true
	}
	return &MockSender{Kind: channel, FailFor: fail}
}

func (m *MockSender) Channel() model.Channel {
	return m.Kind
}

func (m *MockSender) Send(ctx context.Context, recipient, message string) error {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailFor[recipient] {
		return errors.New("recipient rejected")
	}
	m.sent = append(m.sent, Delivery{Recipient: recipient, Message: message})
	return nil
}

func (m *MockSender) Sent() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delivery, len(m.sent))
	copy(out, m.sent)
	return out
}
