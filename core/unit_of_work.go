package core

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the statement surface repositories run against. Inside a unit
// of work it is the open pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UnitOfWork runs fn atomically: its writes are committed when fn returns
// nil and rolled back otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, q Querier) error) error
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxManager implements UnitOfWork on a pgx pool. Each Do call holds one
// pooled connection for the duration of fn and always gives it back.
type TxManager struct {
	db  txBeginner
	log *slog.Logger
}

func NewTxManager(db txBeginner, logger *slog.Logger) *TxManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TxManager{db: db, log: logger}
}

// Do opens a transaction, runs fn, then commits or rolls back. A panic in fn
// rolls back and is re-raised.
func (m *TxManager) Do(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return storageError(m.log, "begin", err, KindInternal, "failed to open unit of work")
	}

	ctx, hooks := withCommitHooks(ctx)
	committed := false
	defer func() {
		if committed {
			return
		}
		// Rollback must finish even if the request context is already canceled.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			m.log.Error("rollback failed", "error", rbErr)
		}
		if p := recover(); p != nil {
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return storageError(m.log, "commit", err, KindInternal, "failed to commit unit of work")
	}
	committed = true
	hooks.run(context.WithoutCancel(ctx))
	return nil
}

type commitHooksKey struct{}

type commitHooks struct {
	fns []func(ctx context.Context)
}

func withCommitHooks(ctx context.Context) (context.Context, *commitHooks) {
	h := &commitHooks{}
	return context.WithValue(ctx, commitHooksKey{}, h), h
}

func (h *commitHooks) run(ctx context.Context) {
	for _, fn := range h.fns {
		fn(ctx)
	}
}

// AfterCommit defers fn until the unit of work carried by ctx commits; fn is
// dropped on rollback. It reports false when ctx belongs to no unit of work,
// leaving the caller to act immediately.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) bool {
	h, ok := ctx.Value(commitHooksKey{}).(*commitHooks)
	if !ok {
		return false
	}
	h.fns = append(h.fns, fn)
	return true
}
