package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"viewpulse/internal/model"
)

type PostgresStore struct {
	Pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, wrap("connect", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrap("ping", err)
	}
	return &PostgresStore{Pool: pool}, nil
}

func (s *PostgresStore) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return wrap("ping", s.Pool.Ping(ctx))
}

func (s *PostgresStore) ExecScript(ctx context.Context, script string) error {
	_, err := s.Pool.Exec(ctx, script)
	return wrap("exec script", err)
}

const itemColumns = `id, title, description, warning_threshold, emergency_threshold, status, recipients, created_at, updated_at`

func scanItem(row rowScanner) (model.TrackedItem, error) {
	var (
		item       model.TrackedItem
		status     string
		recipients []byte
	)
	if err := row.Scan(&item.ID, &item.Title, &item.Description, &item.WarningThreshold, &item.EmergencyThreshold, &status, &recipients, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return model.TrackedItem{}, err
	}
	item.Status = model.ItemStatus(status)
	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &item.Recipients); err != nil {
			return model.TrackedItem{}, fmt.Errorf("decode recipients for %s: %w", item.ID, err)
		}
	}
	return item, nil
}

func (s *PostgresStore) ListItems(ctx context.Context, status model.ItemStatus) ([]model.TrackedItem, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.Pool.Query(ctx, `SELECT `+itemColumns+` FROM tracked_items ORDER BY id`)
	} else {
		rows, err = s.Pool.Query(ctx, `SELECT `+itemColumns+` FROM tracked_items WHERE status=$1 ORDER BY id`, string(status))
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

func (s *PostgresStore) GetItem(ctx context.Context, id string) (model.TrackedItem, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM tracked_items WHERE id=$1`, id)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TrackedItem{}, ErrNotFound
	}
	if err != nil {
		return model.TrackedItem{}, wrap("get item", err)
	}
	return item, nil
}

func (s *PostgresStore) UpsertItem(ctx context.Context, item model.TrackedItem) error {
	recipients, err := json.Marshal(item.Recipients)
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO tracked_items (id, title, description, warning_threshold, emergency_threshold, status, recipients, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
		ON CONFLICT (id) DO UPDATE SET
			title=EXCLUDED.title,
			description=EXCLUDED.description,
			warning_threshold=EXCLUDED.warning_threshold,
			emergency_threshold=EXCLUDED.emergency_threshold,
			status=EXCLUDED.status,
			recipients=EXCLUDED.recipients,
			updated_at=now()`,
		item.ID, item.Title, item.Description, item.WarningThreshold, item.EmergencyThreshold, string(item.Status), string(recipients))
	return wrap("upsert item", err)
}

func (s *PostgresStore) DeleteItem(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM tracked_items WHERE id=$1`, id)
	if err != nil {
		return wrap("delete item", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendSample(ctx context.Context, sample model.Sample) error {
	_, err := s.Pool.Exec(ctx, `INSERT INTO samples (item_id, measurement, observed_at) VALUES ($1,$2,$3)`,
		sample.ItemID, sample.Measurement, sample.ObservedAt.UTC())
	return wrap("append sample", err)
}

func (s *PostgresStore) querySamples(ctx context.Context, op, query string, args ...any) ([]model.Sample, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
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

func (s *PostgresStore) RecentSamples(ctx context.Context, itemID string, n int) ([]model.Sample, error) {
	if n <= 0 {
		return []model.Sample{}, nil
	}
	return s.querySamples(ctx, "recent samples", `
		SELECT item_id, measurement, observed_at FROM samples
		WHERE item_id=$1 ORDER BY observed_at DESC, id DESC LIMIT $2`, itemID, n)
}

func (s *PostgresStore) SamplesBetween(ctx context.Context, itemID string, from, to time.Time) ([]model.Sample, error) {
	return s.querySamples(ctx, "samples between", `
		SELECT item_id, measurement, observed_at FROM samples
		WHERE item_id=$1 AND observed_at >= $2 AND observed_at <= $3
		ORDER BY observed_at ASC, id ASC`, itemID, from.UTC(), to.UTC())
}

func (s *PostgresStore) SampleBefore(ctx context.Context, itemID string, t time.Time) (model.Sample, error) {
	samples, err := s.querySamples(ctx, "sample before", `
		SELECT item_id, measurement, observed_at FROM samples
		WHERE item_id=$1 AND observed_at < $2
		ORDER BY observed_at DESC, id DESC LIMIT 1`, itemID, t.UTC())
	if err != nil {
		return model.Sample{}, err
	}
	if len(samples) == 0 {
		return model.Sample{}, ErrNotFound
	}
	return samples[0], nil
}

func (s *PostgresStore) AppendAlert(ctx context.Context, rec model.AlertRecord) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO alerts (id, item_id, tier, channel, recipient, message, outcome, is_test, rate, threshold, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rec.ID, rec.ItemID, rec.Tier.String(), string(rec.Channel), rec.Recipient, rec.Message, string(rec.Outcome), rec.IsTest, rec.Rate, rec.Threshold, rec.CreatedAt.UTC())
	return wrap("append alert", err)
}

func (s *PostgresStore) HasAlertSince(ctx context.Context, itemID string, tier model.Tier, since time.Time) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM alerts WHERE item_id=$1 AND tier=$2 AND is_test=false AND created_at > $3)`,
		itemID, tier.String(), since.UTC()).Scan(&exists)
	if err != nil {
		return false, wrap("query alert log", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]model.AlertRecord, error) {
	query, args := alertQuery(filter, func(n int) string { return fmt.Sprintf("$%d", n) })
	rows, err := s.Pool.Query(ctx, query, args...)
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
