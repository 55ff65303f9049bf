package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"viewpulse/internal/model"
)

var ErrNotFound = errors.New("not found")

// Error is returned when the backing store fails an operation. Callers treat
// it as the store being unavailable for that record.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// IsStorageError reports whether err came from the store rather than from a
// missing record.
func IsStorageError(err error) bool {
	var sErr *Error
	return errors.As(err, &sErr)
}

type ItemStore interface {
	// ListItems returns items with the given status, or every item when status is empty.
	ListItems(ctx context.Context, status model.ItemStatus) ([]model.TrackedItem, error)
	GetItem(ctx context.Context, id string) (model.TrackedItem, error)
	UpsertItem(ctx context.Context, item model.TrackedItem) error
	// DeleteItem removes the item together with its samples and alert records.
	DeleteItem(ctx context.Context, id string) error
}

type SampleStore interface {
	AppendSample(ctx context.Context, sample model.Sample) error
	// RecentSamples returns up to n samples, newest first.
	RecentSamples(ctx context.Context, itemID string, n int) ([]model.Sample, error)
	// SamplesBetween returns samples observed in [from, to], oldest first.
	SamplesBetween(ctx context.Context, itemID string, from, to time.Time) ([]model.Sample, error)
	// SampleBefore returns the newest sample observed strictly before t.
	SampleBefore(ctx context.Context, itemID string, t time.Time) (model.Sample, error)
}

type AlertFilter struct {
	ItemID  string
	Channel model.Channel
	Outcome model.Outcome
	Tier    *model.Tier
	IsTest  *bool
	Since   time.Time
	Limit   int
}

const (
	defaultAlertLimit = 100
	maxAlertLimit     = 1000
)

func (f AlertFilter) limit() int {
	if f.Limit <= 0 {
		return defaultAlertLimit
	}
	if f.Limit > maxAlertLimit {
		return maxAlertLimit
	}
	return f.Limit
}

type AlertLog interface {
	AppendAlert(ctx context.Context, rec model.AlertRecord) error
	// HasAlertSince reports whether a non-test record exists for the item and
	// tier created after since. Test alerts are skipped so a drill never
	// starts or extends the cooldown of real alerts.
	HasAlertSince(ctx context.Context, itemID string, tier model.Tier, since time.Time) (bool, error)
	// ListAlerts returns matching records, newest first.
	ListAlerts(ctx context.Context, filter AlertFilter) ([]model.AlertRecord, error)
}

type Backend interface {
	ItemStore
	SampleStore
	AlertLog
	Ping(ctx context.Context) error
	Close()
}

// Migrator is implemented by SQL backends that can apply schema scripts.
type Migrator interface {
	ExecScript(ctx context.Context, script string) error
}

type Config struct {
	Driver string
	DSN    string
}

func Open(ctx context.Context, cfg Config) (Backend, error) {
	if strings.TrimSpace(cfg.Driver) == "" {
		return nil, errors.New("storage driver is required")
	}
	switch strings.ToLower(cfg.Driver) {
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, cfg.DSN)
	case "mysql":
		return NewMySQLStore(ctx, cfg.DSN)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// alertQuery builds the filtered alert listing shared by the SQL backends.
// placeholder renders the n-th (1-based) bind parameter for the dialect.
func alertQuery(filter AlertFilter, placeholder func(n int) string) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(expr string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(expr, placeholder(len(args))))
	}
	if filter.ItemID != "" {
		add("item_id = %s", filter.ItemID)
	}
	if filter.Channel != "" {
		add("channel = %s", string(filter.Channel))
	}
	if filter.Outcome != "" {
		add("outcome = %s", string(filter.Outcome))
	}
	if filter.Tier != nil {
		add("tier = %s", filter.Tier.String())
	}
	if filter.IsTest != nil {
		add("is_test = %s", *filter.IsTest)
	}
	if !filter.Since.IsZero() {
		add("created_at >= %s", filter.Since.UTC())
	}
	query := `SELECT id, item_id, tier, channel, recipient, message, outcome, is_test, rate, threshold, created_at FROM alerts`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, filter.limit())
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %s", placeholder(len(args)))
	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (model.AlertRecord, error) {
	var (
		rec     model.AlertRecord
		tier    string
		channel string
		outcome string
	)
	if err := row.Scan(&rec.ID, &rec.ItemID, &tier, &channel, &rec.Recipient, &rec.Message, &outcome, &rec.IsTest, &rec.Rate, &rec.Threshold, &rec.CreatedAt); err != nil {
		return model.AlertRecord{}, err
	}
	parsed, err := model.ParseTier(tier)
	if err != nil {
		return model.AlertRecord{}, err
	}
	rec.Tier = parsed
	rec.Channel = model.Channel(channel)
	rec.Outcome = model.Outcome(outcome)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}
