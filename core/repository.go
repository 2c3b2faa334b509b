package core

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// UserRecord represents a user row including the password hash.
type UserRecord struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
}

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, q Querier, username, email, passwordHash string) (int64, error)
	FindByID(ctx context.Context, q Querier, id int64) (*UserRecord, error)
	FindByEmail(ctx context.Context, q Querier, email string) (*UserRecord, error)
	UpdateUsername(ctx context.Context, q Querier, id int64, username string) (*UserRecord, error)
}

// PgUserRepository implements UserRepository on PostgreSQL.
type PgUserRepository struct {
	log *slog.Logger
}

func NewPgUserRepository(logger *slog.Logger) *PgUserRepository {
	return &PgUserRepository{log: logger}
}

func (r *PgUserRepository) Create(ctx context.Context, q Querier, username, email, passwordHash string) (int64, error) {
	const stmt = `INSERT INTO users (username, email, password) VALUES ($1,$2,$3) RETURNING id`
	var id int64
	if err := q.QueryRow(ctx, stmt, username, email, passwordHash).Scan(&id); err != nil {
		return 0, storageError(r.log, "users.create", err, KindConflict, "Registration Failed")
	}
	return id, nil
}

func (r *PgUserRepository) FindByID(ctx context.Context, q Querier, id int64) (*UserRecord, error) {
	const stmt = `SELECT id, username, email, COALESCE(password, '') FROM users WHERE id=$1`
	return r.findOne(ctx, q, "users.find_by_id", stmt, id)
}

func (r *PgUserRepository) FindByEmail(ctx context.Context, q Querier, email string) (*UserRecord, error) {
	const stmt = `SELECT id, username, email, COALESCE(password, '') FROM users WHERE email=$1`
	return r.findOne(ctx, q, "users.find_by_email", stmt, email)
}

func (r *PgUserRepository) UpdateUsername(ctx context.Context, q Querier, id int64, username string) (*UserRecord, error) {
	const stmt = `UPDATE users SET username=$1 WHERE id=$2 RETURNING id, username, email, COALESCE(password, '')`
	return r.findOne(ctx, q, "users.update_username", stmt, username, id)
}

func (r *PgUserRepository) findOne(ctx context.Context, q Querier, op, stmt string, args ...any) (*UserRecord, error) {
	var u UserRecord
	err := q.QueryRow(ctx, stmt, args...).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFound("User not found")
	}
	if err != nil {
		return nil, storageError(r.log, op, err, KindInternal, "User lookup failed")
	}
	return &u, nil
}
