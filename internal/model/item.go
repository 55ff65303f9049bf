package model

import (
	"fmt"
	"strings"
	"time"
)

type ItemStatus string

const (
	StatusActive ItemStatus = "active"
	StatusPaused ItemStatus = "paused"
)

func (s ItemStatus) Valid() bool {
	return s == StatusActive || s == StatusPaused
}

// Channel identifies a notification transport.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelChat  Channel = "chat"
	ChannelSMS   Channel = "sms"
)

// Channels lists every channel in dispatch order.
var Channels = []Channel{ChannelEmail, ChannelChat, ChannelSMS}

func ParseChannel(value string) (Channel, error) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(value))); c {
	case ChannelEmail, ChannelChat, ChannelSMS:
		return c, nil
	default:
		return "", fmt.Errorf("unknown channel %q", value)
	}
}

// Recipients holds one independently optional list per channel.
type Recipients struct {
	Email []string `json:"email,omitempty" yaml:"email"`
	Chat  []string `json:"chat,omitempty" yaml:"chat"`
	SMS   []string `json:"sms,omitempty" yaml:"sms"`
}

func (r Recipients) For(channel Channel) []string {
	switch channel {
	case ChannelEmail:
		return r.Email
	case ChannelChat:
		return r.Chat
	case ChannelSMS:
		return r.SMS
	default:
		return nil
	}
}

func (r Recipients) Count() int {
	return len(r.Email) + len(r.Chat) + len(r.SMS)
}

// TrackedItem is an externally identified item whose measurement is polled.
// The pipeline only reads items; they are owned by the persistence layer.
type TrackedItem struct {
	ID                 string     `json:"id" yaml:"id"`
	Title              string     `json:"title" yaml:"title"`
	Description        string     `json:"description,omitempty" yaml:"description"`
	WarningThreshold   int64      `json:"warningThreshold" yaml:"warning_threshold"`
	EmergencyThreshold int64      `json:"emergencyThreshold" yaml:"emergency_threshold"`
	Status             ItemStatus `json:"status" yaml:"status"`
	Recipients         Recipients `json:"recipients" yaml:"recipients"`
	CreatedAt          time.Time  `json:"createdAt" yaml:"-"`
	UpdatedAt          time.Time  `json:"updatedAt" yaml:"-"`
}

// ThresholdFor returns the threshold that the given tier was measured against.
func (i TrackedItem) ThresholdFor(tier Tier) int64 {
	if tier == TierEmergency {
		return i.EmergencyThreshold
	}
	return i.WarningThreshold
}

// DisplayName falls back to the external ID when no title is set.
func (i TrackedItem) DisplayName() string {
	if strings.TrimSpace(i.Title) != "" {
		return i.Title
	}
	return i.ID
}

type ErrorDetail struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
	Hint    string `json:"hint,omitempty"`
}

type ValidationError struct {
	Details []ErrorDetail `json:"details"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, d.Field+": "+d.Problem)
	}
	return "invalid tracked item: " + strings.Join(parts, "; ")
}

func (i TrackedItem) Validate() error {
	var details []ErrorDetail
	if strings.TrimSpace(i.ID) == "" {
		details = append(details, ErrorDetail{Field: "id", Problem: "missing", Hint: "Use the external source ID"})
	}
	if i.WarningThreshold <= 0 {
		details = append(details, ErrorDetail{Field: "warningThreshold", Problem: "must be positive"})
	}
	if i.EmergencyThreshold <= i.WarningThreshold {
		details = append(details, ErrorDetail{Field: "emergencyThreshold", Problem: "must exceed warningThreshold",
			Hint: fmt.Sprintf("warningThreshold is %d", i.WarningThreshold)})
	}
	if !i.Status.Valid() {
		details = append(details, ErrorDetail{Field: "status", Problem: "invalid", Hint: "Use active or paused"})
	}
	for _, channel := range Channels {
		for idx, recipient := range i.Recipients.For(channel) {
			if strings.TrimSpace(recipient) == "" {
				details = append(details, ErrorDetail{Field: fmt.Sprintf("recipients.%s[%d]", channel, idx), Problem: "empty"})
			}
		}
	}
	if len(details) > 0 {
		return &ValidationError{Details: details}
	}
	return nil
}
