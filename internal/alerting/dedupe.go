package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"viewpulse/internal/logger"
	"viewpulse/internal/metrics"
	"viewpulse/internal/model"
	"viewpulse/internal/monitor"
	"viewpulse/internal/storage"
)

const DefaultCooldown = 5 * time.Minute

type dedupeKey struct {
	itemID string
	tier   model.Tier
}

// Deduplicator suppresses repeat alerts of the same tier for the same item
// within the cooldown window. The alert log is the source of truth.
type Deduplicator struct {
	log      storage.AlertLog
	cooldown time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu    sync.Mutex
	locks map[dedupeKey]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewDeduplicator(log storage.AlertLog, cooldown time.Duration, now func() time.Time) *Deduplicator {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &Deduplicator{
		log:      log,
		cooldown: cooldown,
		now:      now,
		logger:   logger.WithComponent("dedupe"),
		locks:    map[dedupeKey]*keyLock{},
	}
}

func (d *Deduplicator) Cooldown() time.Duration {
	return d.cooldown
}

// ShouldSend reports whether an alert for (itemID, tier) may go out now.
// A failed lookup suppresses the alert.
func (d *Deduplicator) ShouldSend(ctx context.Context, itemID string, tier model.Tier) bool {
	since := monitor.CooldownStart(d.now(), d.cooldown)
	found, err := d.log.HasAlertSince(ctx, itemID, tier, since)
	if err != nil {
		d.logger.Warn().Err(err).
			Str("item_id", itemID).
			Str("tier", tier.String()).
			Msg("alert log lookup failed, suppressing alert")
		metrics.AlertsSuppressed.WithLabelValues(tier.String(), "lookup_failed").Inc()
		return false
	}
	if found {
		metrics.AlertsSuppressed.WithLabelValues(tier.String(), "cooldown").Inc()
		return false
	}
	return true
}

// Lock serialises the cooldown check and the record inserts for one
// (item, tier) pair. Call the returned function to release.
func (d *Deduplicator) Lock(itemID string, tier model.Tier) func() {
	key := dedupeKey{itemID: itemID, tier: tier}
	d.mu.Lock()
	l, ok := d.locks[key]
	if !ok {
		l = &keyLock{}
		d.locks[key] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, key)
		}
		d.mu.Unlock()
	}
}
