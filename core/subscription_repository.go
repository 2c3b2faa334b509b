package core

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// Subscription asks for a notification when BandID releases an album.
type Subscription struct {
	ID        int64  `json:"id" db:"id"`
	UserEmail string `json:"user_email" db:"user_email"`
	BandID    int64  `json:"band_id" db:"band_id"`
}

type SubscriptionRepository interface {
	Create(ctx context.Context, q Querier, userEmail string, bandID int64) (Subscription, error)
	ListByBand(ctx context.Context, q Querier, bandID int64) ([]Subscription, error)
}

// PgSubscriptionRepository implements SubscriptionRepository on PostgreSQL.
type PgSubscriptionRepository struct {
	log *slog.Logger
}

func NewPgSubscriptionRepository(logger *slog.Logger) *PgSubscriptionRepository {
	return &PgSubscriptionRepository{log: logger}
}

// Create inserts unconditionally; the same pair may be stored more than once.
func (r *PgSubscriptionRepository) Create(ctx context.Context, q Querier, userEmail string, bandID int64) (Subscription, error) {
	const stmt = `INSERT INTO subscriptions (user_email, band_id) VALUES ($1,$2) RETURNING id, user_email, band_id`
	return insertOne[Subscription](ctx, r.log, q, "subscriptions.create", stmt, userEmail, bandID)
}

func (r *PgSubscriptionRepository) ListByBand(ctx context.Context, q Querier, bandID int64) ([]Subscription, error) {
	const stmt = `SELECT id, user_email, band_id FROM subscriptions WHERE band_id=$1 ORDER BY id`
	rows, err := q.Query(ctx, stmt, bandID)
	if err != nil {
		return nil, storageError(r.log, "subscriptions.list_by_band", err, KindInternal, "Failed to get subscriptions")
	}
	subs, err := pgx.CollectRows(rows, pgx.RowToStructByName[Subscription])
	if err != nil {
		return nil, storageError(r.log, "subscriptions.list_by_band", err, KindInternal, "Failed to get subscriptions")
	}
	return subs, nil
}
