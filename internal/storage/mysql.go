package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"viewpulse/internal/model"
)

// MySQLStore implements Backend on database/sql with the MySQL driver.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, wrap("parse dsn", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, wrap("connect", err)
	}
	db := sql.OpenDB(connector)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, wrap("ping", err)
	}
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *MySQLStore) Ping(ctx context.Context) error {
	return wrap("ping", s.db.PingContext(ctx))
}

// ExecScript runs each ;-terminated statement of script in order.
func (s *MySQLStore) ExecScript(ctx context.Context, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wrap("exec script", err)
		}
	}
	return nil
}

func (s *MySQLStore) ListItems(ctx context.Context, status model.ItemStatus) ([]model.TrackedItem, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.QueryContext(ctx, "SELECT "+itemColumns+" FROM tracked_items ORDER BY id")
	} else {
		rows, err = s.db.QueryContext(ctx, "SELECT "+itemColumns+" FROM tracked_items WHERE status = ? ORDER BY id", string(status))
	}
	if err != nil {
		return nil, wrap("list items", err)
	}
	defer rows.Close()
	results := []model.TrackedItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, wrap("scan item", err)
		}
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list items", err)
	}
	return results, nil
}

func (s *MySQLStore) GetItem(ctx context.Context, id string) (model.TrackedItem, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM tracked_items WHERE id = ?", id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TrackedItem{}, ErrNotFound
	}
	if err != nil {
		return model.TrackedItem{}, wrap("get item", err)
	}
	return item, nil
}

func (s *MySQLStore) UpsertItem(ctx context.Context, item model.TrackedItem) error {
	recipients, err := json.Marshal(item.Recipients)
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tracked_items (id, title, description, warning_threshold, emergency_threshold, status, recipients, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			title = VALUES(title),
			description = VALUES(description),
			warning_threshold = VALUES(warning_threshold),
			emergency_threshold = VALUES(emergency_threshold),
			status = VALUES(status),
			recipients = VALUES(recipients),
			updated_at = VALUES(updated_at)`,
		item.ID, item.Title, item.Description, item.WarningThreshold, item.EmergencyThreshold, string(item.Status), string(recipients), now, now)
	return wrap("upsert item", err)
}

func (s *MySQLStore) DeleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tracked_items WHERE id = ?", id)
	if err != nil {
		return wrap("delete item", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrap("delete item", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MySQLStore) AppendSample(ctx context.Context, sample model.Sample) error {
	_, err := s.db.ExecContext(ctx, "INSERT INTO samples (item_id, measurement, observed_at) VALUES (?, ?, ?)",
		sample.ItemID, sample.Measurement, sample.ObservedAt.UTC())
	return wrap("append sample", err)
}

func (s *MySQLStore) querySamples(ctx context.Context, op, query string, args ...any) ([]model.Sample, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()
	results := []model.Sample{}
	for rows.Next() {
		var sample model.Sample
		if err := rows.Scan(&sample.ItemID, &sample.Measurement, &sample.ObservedAt); err != nil {
			return nil, wrap(op, err)
		}
		sample.ObservedAt = sample.ObservedAt.UTC()
		results = append(results, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return results, nil
}

func (s *MySQLStore) RecentSamples(ctx context.Context, itemID string, n int) ([]model.Sample, error) {
	if n <= 0 {
		return []model.Sample{}, nil
	}
	return s.querySamples(ctx, "recent samples",
		"SELECT item_id, measurement, observed_at FROM samples WHERE item_id = ? ORDER BY observed_at DESC, id DESC LIMIT ?", itemID, n)
}

func (s *MySQLStore) SamplesBetween(ctx context.Context, itemID string, from, to time.Time) ([]model.Sample, error) {
	return s.querySamples(ctx, "samples between",
		"SELECT item_id, measurement, observed_at FROM samples WHERE item_id = ? AND observed_at >= ? AND observed_at <= ? ORDER BY observed_at ASC, id ASC",
		itemID, from.UTC(), to.UTC())
}

func (s *MySQLStore) SampleBefore(ctx context.Context, itemID string, t time.Time) (model.Sample, error) {
	samples, err := s.querySamples(ctx, "sample before",
		"SELECT item_id, measurement, observed_at FROM samples WHERE item_id = ? AND observed_at < ? ORDER BY observed_at DESC, id DESC LIMIT 1",
		itemID, t.UTC())
	if err != nil {
		return model.Sample{}, err
	}
	if len(samples) == 0 {
		return model.Sample{}, ErrNotFound
	}
	return samples[0], nil
}

func (s *MySQLStore) AppendAlert(ctx context.Context, rec model.AlertRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, item_id, tier, channel, recipient, message, outcome, is_test, rate, threshold, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ItemID, rec.Tier.String(), string(rec.Channel), rec.Recipient, rec.Message, string(rec.Outcome), rec.IsTest, rec.Rate, rec.Threshold, rec.CreatedAt.UTC())
	return wrap("append alert", err)
}

func (s *MySQLStore) HasAlertSince(ctx context.Context, itemID string, tier model.Tier, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM alerts WHERE item_id = ? AND tier = ? AND is_test = FALSE AND created_at > ?)",
		itemID, tier.String(), since.UTC()).Scan(&exists)
	if err != nil {
		return false, wrap("query alert log", err)
	}
	return exists, nil
}

func (s *MySQLStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]model.AlertRecord, error) {
	query, args := alertQuery(filter, func(int) string { return "?" })
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list alerts", err)
	}
	defer rows.Close()
	results := []model.AlertRecord{}
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, wrap("scan alert", err)
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list alerts", err)
	}
	return results, nil
}
