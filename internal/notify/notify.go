package notify

import (
	"context"
	"fmt"

	"viewpulse/internal/model"
)

// Sender delivers one rendered message to one recipient over a channel.
// A nil error means the message was delivered.
type Sender interface {
	Channel() model.Channel
	Send(ctx context.Context, recipient, message string) error
}

type SendError struct {
	Channel   model.Channel
	Recipient string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s to %s: %v", e.Channel, e.Recipient, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

type Registry struct {
	senders map[model.Channel]Sender
}

func NewRegistry(senders ...Sender) *Registry {
	reg := &Registry{senders: map[model.Channel]Sender{}}
	for _, s := range senders {
		if s != nil {
			reg.senders[s.Channel()] = s
		}
	}
	return reg
}

func (r *Registry) SenderFor(channel model.Channel) (Sender, error) {
	if r == nil {
		return nil, fmt.Errorf("sender registry not configured")
	}
	sender, ok := r.senders[channel]
	if !ok {
		return nil, fmt.Errorf("no sender configured for %s", channel)
	}
	return sender, nil
}

// Send looks up the channel's sender and delivers through it. Every failure,
// including a missing sender, comes back as a *SendError.
func (r *Registry) Send(ctx context.Context, channel model.Channel, recipient, message string) error {
	sender, err := r.SenderFor(channel)
	if err != nil {
		return &SendError{Channel: channel, Recipient: recipient, Err: err}
	}
	if err := sender.Send(ctx, recipient, message); err != nil {
		return &SendError{Channel: channel, Recipient: recipient, Err: err}
	}
	return nil
}

func (r *Registry) Channels() []model.Channel {
	var out []model.Channel
	for _, channel := range model.Channels {
		if _, ok := r.senders[channel]; ok {
			out = append(out, channel)
		}
	}
	return out
}
