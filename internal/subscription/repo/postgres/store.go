package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jia-app/subscriptionservice/internal/metrics"
	"github.com/jia-app/subscriptionservice/internal/subscription/domain"
	"github.com/jia-app/subscriptionservice/internal/subscription/repo"
)

// Migrations holds the goose migrations for the subscriptions schema.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations that goose reads.
const MigrationsDir = "migrations"

var _ repo.Store = (*Store)(nil)

// querier is the subset of pgxpool.Pool the store uses. Tests and
// transactions can stand in for the pool.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Store is the PostgreSQL implementation of repo.Store
type Store struct {
	db querier
}

// NewStoreWithPool creates a store on an existing pool
func NewStoreWithPool(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	return &Store{db: pool}, nil
}

const subscriptionColumns = `id, user_id, provider_subscription_id, plan_id, status,
	valid_until, last_event_at, created_at, updated_at`

const findByUserIDQuery = `SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE user_id = $1`

const findByProviderIDQuery = `SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE provider_subscription_id = $1
ORDER BY updated_at DESC
LIMIT 1`

// The WHERE clause on the conflict branch keeps rows that already absorbed
// a newer event; RETURNING then yields no row.
const upsertQuery = `INSERT INTO subscriptions (
	id, user_id, provider_subscription_id, plan_id, status,
	valid_until, last_event_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
ON CONFLICT (user_id) DO UPDATE SET
	provider_subscription_id = EXCLUDED.provider_subscription_id,
	plan_id = EXCLUDED.plan_id,
	status = EXCLUDED.status,
	valid_until = EXCLUDED.valid_until,
	last_event_at = COALESCE(EXCLUDED.last_event_at, subscriptions.last_event_at),
	updated_at = now()
WHERE subscriptions.last_event_at IS NULL
	OR EXCLUDED.last_event_at IS NULL
	OR subscriptions.last_event_at <= EXCLUDED.last_event_at
RETURNING ` + subscriptionColumns

const updateQuery = `UPDATE subscriptions SET
	status = COALESCE($2, status),
	plan_id = COALESCE($3, plan_id),
	valid_until = COALESCE($4, valid_until),
	last_event_at = COALESCE($5, last_event_at),
	updated_at = now()
WHERE id = $1
	AND ($5::timestamptz IS NULL OR last_event_at IS NULL OR last_event_at <= $5::timestamptz)`

func (s *Store) FindByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	defer observe("find_by_user_id", time.Now())

	sub, err := scanSubscription(s.db.QueryRow(ctx, findByUserIDQuery, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("subscription", userID)
		}
		return nil, fmt.Errorf("failed to find subscription by user id: %w", err)
	}
	return sub, nil
}

func (s *Store) FindByProviderID(ctx context.Context, providerSubscriptionID string) (*domain.Subscription, error) {
	defer observe("find_by_provider_id", time.Now())

	sub, err := scanSubscription(s.db.QueryRow(ctx, findByProviderIDQuery, providerSubscriptionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("subscription", providerSubscriptionID)
		}
		return nil, fmt.Errorf("failed to find subscription by provider id: %w", err)
	}
	return sub, nil
}

func (s *Store) Upsert(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	defer observe("upsert", time.Now())

	id := sub.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	stored, err := scanSubscription(s.db.QueryRow(ctx, upsertQuery,
		id,
		sub.UserID,
		sub.ProviderSubscriptionID,
		sub.PlanID,
		string(sub.Status),
		sub.ValidUntil.UTC(),
		sub.LastEventAt,
	))
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	// Conflict branch skipped: the stored row is newer.
	return s.FindByUserID(ctx, sub.UserID)
}

func (s *Store) Update(ctx context.Context, id uuid.UUID, fields domain.Fields) (bool, error) {
	if fields.Empty() {
		return false, nil
	}
	defer observe("update", time.Now())

	var status *string
	if fields.Status != nil {
		v := string(*fields.Status)
		status = &v
	}
	var validUntil *time.Time
	if fields.ValidUntil != nil {
		v := fields.ValidUntil.UTC()
		validUntil = &v
	}

	tag, err := s.db.Exec(ctx, updateQuery, id, status, fields.PlanID, validUntil, fields.LastEventAt)
	if err != nil {
		return false, fmt.Errorf("failed to update subscription: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		sub    domain.Subscription
		status string
	)
	if err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.ProviderSubscriptionID,
		&sub.PlanID,
		&status,
		&sub.ValidUntil,
		&sub.LastEventAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sub.Status = domain.Status(status)
	if !sub.Status.Valid() {
		return nil, fmt.Errorf("subscription %s has unknown status %q", sub.ID, status)
	}
	return &sub, nil
}

func observe(operation string, start time.Time) {
	metrics.RecordDatabaseQuery(operation, time.Since(start))
}
