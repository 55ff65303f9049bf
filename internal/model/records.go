package model

import "time"

// Sample is a single observation of an item's measurement. Samples are never
// updated once written.
type Sample struct {
	ItemID      string    `json:"itemId"`
	Measurement int64     `json:"measurement"`
	ObservedAt  time.Time `json:"observedAt"`
}

type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
)

func (o Outcome) Valid() bool {
	return o == OutcomeDelivered || o == OutcomeFailed
}

// AlertRecord is one delivery attempt. The alert log doubles as the
// deduplication index, so failed attempts are recorded too.
type AlertRecord struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"itemId"`
	Tier      Tier      `json:"tier"`
	Channel   Channel   `json:"channel"`
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	Outcome   Outcome   `json:"outcome"`
	IsTest    bool      `json:"isTest"`
	Rate      int64     `json:"rate"`
	Threshold int64     `json:"threshold"`
	CreatedAt time.Time `json:"createdAt"`
}
