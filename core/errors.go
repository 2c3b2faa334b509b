package core

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind classifies failures for the HTTP boundary.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindUnauthorized
	KindForbidden
)

var kindStatus = map[ErrorKind]int{
	KindInternal:     http.StatusInternalServerError,
	KindValidation:   http.StatusUnprocessableEntity,
	KindConflict:     http.StatusConflict,
	KindNotFound:     http.StatusNotFound,
	KindUnauthorized: http.StatusUnauthorized,
	KindForbidden:    http.StatusForbidden,
}

var kindCode = map[ErrorKind]string{
	KindInternal:     "INTERNAL_SERVER_ERROR",
	KindValidation:   "VALIDATION_ERROR",
	KindConflict:     "CONFLICT",
	KindNotFound:     "NOT_FOUND",
	KindUnauthorized: "UNAUTHORIZED",
	KindForbidden:    "FORBIDDEN",
}

// Status returns the HTTP status for the kind.
func (k ErrorKind) Status() int {
	if s, ok := kindStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Code returns the machine-readable code sent in error bodies.
func (k ErrorKind) Code() string {
	if c, ok := kindCode[k]; ok {
		return c
	}
	return kindCode[KindInternal]
}

func (k ErrorKind) String() string {
	return strings.ToLower(k.Code())
}

// AppError is the only error type the HTTP boundary turns into a
// non-generic response.
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func Validation(msg string) *AppError   { return &AppError{Kind: KindValidation, Message: msg} }
func NotFound(msg string) *AppError     { return &AppError{Kind: KindNotFound, Message: msg} }
func Unauthorized(msg string) *AppError { return &AppError{Kind: KindUnauthorized, Message: msg} }
func Forbidden(msg string) *AppError    { return &AppError{Kind: KindForbidden, Message: msg} }

func Conflict(msg string, err error) *AppError {
	return &AppError{Kind: KindConflict, Message: msg, Err: err}
}

func Internal(msg string, err error) *AppError {
	return &AppError{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf returns the kind of err, KindInternal for untagged errors.
func KindOf(err error) ErrorKind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ae *AppError
	return errors.As(err, &ae) && ae.Kind == kind
}

// PostgreSQL SQLSTATE values the repositories translate.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
	pgDataExceptionClass  = "22"
)

// storageError logs a repository failure and converts it into an AppError.
// Constraint violations become Conflict, bad data becomes Validation, a
// missing row becomes NotFound; everything else takes fallback. An error
// that is already an AppError passes through unchanged.
func storageError(log *slog.Logger, op string, err error, fallback ErrorKind, msg string) error {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return err
	}
	if log == nil {
		log = slog.Default()
	}
	log.Error("storage operation failed", "op", op, "error", err)

	if errors.Is(err, pgx.ErrNoRows) {
		return &AppError{Kind: KindNotFound, Message: msg, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation, pgErr.Code == pgForeignKeyViolation:
			return &AppError{Kind: KindConflict, Message: msg, Err: err}
		case pgErr.Code == pgNotNullViolation, strings.HasPrefix(pgErr.Code, pgDataExceptionClass):
			return &AppError{Kind: KindValidation, Message: msg, Err: err}
		}
	}
	return &AppError{Kind: fallback, Message: msg, Err: err}
}
