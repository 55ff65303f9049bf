package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"viewpulse/internal/model"
)

const (
	SubjectAlertRecorded = "alerts.recorded"

	SubjectItemCreated = "item.created"
	SubjectItemResumed = "item.resumed"
	SubjectItemPoll    = "item.poll"
)

// TriggerSubjects are the subjects that request an immediate item run.
var TriggerSubjects = []string{SubjectItemCreated, SubjectItemResumed, SubjectItemPoll}

// Event is the payload of an item trigger.
type Event struct {
	ItemID string `json:"item_id"`
}

// AlertEvent is the published form of a persisted alert record.
type AlertEvent struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"item_id"`
	Tier      string    `json:"tier"`
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient"`
	Outcome   string    `json:"outcome"`
	IsTest    bool      `json:"is_test"`
	Rate      int64     `json:"rate"`
	Threshold int64     `json:"threshold"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func NewAlertEvent(rec model.AlertRecord) AlertEvent {
	return AlertEvent{
		ID:        rec.ID,
		ItemID:    rec.ItemID,
		Tier:      rec.Tier.String(),
		Channel:   string(rec.Channel),
		Recipient: rec.Recipient,
		Outcome:   string(rec.Outcome),
		IsTest:    rec.IsTest,
		Rate:      rec.Rate,
		Threshold: rec.Threshold,
		Message:   rec.Message,
		CreatedAt: rec.CreatedAt.UTC(),
	}
}

func decodeEvent(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	evt.ItemID = strings.TrimSpace(evt.ItemID)
	if evt.ItemID == "" {
		return Event{}, errors.New("event has no item_id")
	}
	return evt, nil
}

// Sink is anything that accepts alert records.
type Sink interface {
	PublishAlert(ctx context.Context, rec model.AlertRecord) error
}

// MultiSink fans a record out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) PublishAlert(ctx context.Context, rec model.AlertRecord) error {
	var errs []error
	for _, sink := range m {
		if err := sink.PublishAlert(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
