package subscription

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const selectColumns = `id, owner, name, url, event_type, filters::text, secret, active, created_at, updated_at`

// PostgresRepository stores subscriptions in solhook.subscriptions
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func scanSubscription(row pgx.Row) (Subscription, error) {
	var (
		s       Subscription
		filters string
		secret  *string
	)
	if err := row.Scan(&s.ID, &s.Owner, &s.Name, &s.URL, &s.EventType, &filters, &secret,
		&s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Subscription{}, err
	}
	if err := json.Unmarshal([]byte(filters), &s.Filters); err != nil {
		return Subscription{}, errors.Wrapf(err, "decode filters for %s", s.ID)
	}
	if s.Filters == nil {
		s.Filters = Filters{}
	}
	if secret != nil {
		s.Secret = *secret
	}
	return s, nil
}

func collect(rows pgx.Rows) ([]Subscription, error) {
	defer rows.Close()
	out := []Subscription{}
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func filtersJSON(f Filters) (string, error) {
	if f == nil {
		f = Filters{}
	}
	b, err := json.Marshal(f)
	if err != nil {
		return "", errors.Wrap(err, "encode filters")
	}
	return string(b), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *PostgresRepository) FindActiveByEvent(ctx context.Context, eventType string) ([]Subscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM solhook.subscriptions
		WHERE event_type = $1 AND active
		ORDER BY created_at, id`, eventType)
	if err != nil {
		return nil, errors.Wrap(err, "query active subscriptions")
	}
	return collect(rows)
}

func (r *PostgresRepository) FindByID(ctx context.Context, owner, id string) (Subscription, error) {
	s, err := scanSubscription(r.pool.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM solhook.subscriptions
		WHERE id = $1 AND owner = $2`, id, owner))
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, errors.Wrap(err, "select subscription")
	}
	return s, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, owner string) ([]Subscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM solhook.subscriptions
		WHERE owner = $1
		ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, errors.Wrap(err, "list subscriptions")
	}
	return collect(rows)
}

func (r *PostgresRepository) Create(ctx context.Context, in NewSubscription) (Subscription, error) {
	if err := in.Validate(); err != nil {
		return Subscription{}, err
	}
	filters, err := filtersJSON(in.Filters)
	if err != nil {
		return Subscription{}, err
	}

	// Marshal once, pass as TEXT and cast to ::jsonb in SQL
	s, err := scanSubscription(r.pool.QueryRow(ctx, `
		INSERT INTO solhook.subscriptions(id, owner, name, url, event_type, filters, secret)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		RETURNING `+selectColumns,
		uuid.NewString(), in.Owner, in.Name, in.URL, in.EventType, filters, nullable(in.Secret),
	))
	if err != nil {
		return Subscription{}, errors.Wrap(err, "insert subscription")
	}
	return s, nil
}

func (r *PostgresRepository) Update(ctx context.Context, owner, id string, patch Patch) (Subscription, error) {
	if err := patch.Validate(); err != nil {
		return Subscription{}, err
	}
	var filters *string
	if patch.Filters != nil {
		f, err := filtersJSON(*patch.Filters)
		if err != nil {
			return Subscription{}, err
		}
		filters = &f
	}

	// $7 says whether the secret is being replaced; an empty secret clears it
	s, err := scanSubscription(r.pool.QueryRow(ctx, `
		UPDATE solhook.subscriptions SET
			name       = COALESCE($3, name),
			url        = COALESCE($4, url),
			event_type = COALESCE($5, event_type),
			filters    = COALESCE($6::jsonb, filters),
			secret     = CASE WHEN $7::boolean THEN NULLIF($8, '') ELSE secret END,
			active     = COALESCE($9, active),
			updated_at = $10
		WHERE id = $1 AND owner = $2
		RETURNING `+selectColumns,
		id, owner, patch.Name, patch.URL, patch.EventType, filters,
		patch.Secret != nil, derefOr(patch.Secret), patch.Active, time.Now().UTC(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, errors.Wrap(err, "update subscription")
	}
	return s, nil
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *PostgresRepository) Delete(ctx context.Context, owner, id string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM solhook.subscriptions WHERE id = $1 AND owner = $2`, id, owner)
	if err != nil {
		return errors.Wrap(err, "delete subscription")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
