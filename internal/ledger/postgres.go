package ledger

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger appends to solhook.deliveries
type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) Append(ctx context.Context, rec Record) error {
	rec.fillDefaults(time.Now().UTC())
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return errors.Wrap(err, "encode payload")
	}

	_, err = l.pool.Exec(ctx, `
		INSERT INTO solhook.deliveries(id, subscription_id, job_id, event_type, status, payload, error,
			attempt, http_status, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11)`,
		rec.ID, rec.SubscriptionID, rec.JobID, rec.EventType, string(rec.Status), string(payload), rec.Error,
		rec.Attempt, rec.HTTPStatus, rec.LatencyMs, rec.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert delivery record for job %s", rec.JobID)
	}
	return nil
}

func (l *PostgresLedger) ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]Record, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, subscription_id, job_id, event_type, status, COALESCE(payload::text, 'null'), error,
			attempt, http_status, latency_ms, created_at
		FROM solhook.deliveries
		WHERE subscription_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, subscriptionID, ClampLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "query delivery records")
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var (
			rec     Record
			status  string
			payload string
		)
		if err := rows.Scan(&rec.ID, &rec.SubscriptionID, &rec.JobID, &rec.EventType, &status, &payload,
			&rec.Error, &rec.Attempt, &rec.HTTPStatus, &rec.LatencyMs, &rec.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan delivery record")
		}
		rec.Status = Status(status)
		dec := json.NewDecoder(strings.NewReader(payload))
		dec.UseNumber()
		if err := dec.Decode(&rec.Payload); err != nil {
			return nil, errors.Wrapf(err, "decode payload of %s", rec.ID)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
