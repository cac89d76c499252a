package aggregates

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	domainagg "github.com/yungbote/coursebuilder/internal/domain/aggregates"
)

// Sentinels a write body can join onto its own message; MapError turns
// them into domain codes at the aggregate boundary.
var (
	ErrValidation = errors.New("aggregate validation")
	ErrInvariant  = errors.New("aggregate invariant violation")
)

var sentinelCodes = []struct {
	sentinel error
	code     domainagg.ErrorCode
}{
	{ErrValidation, domainagg.CodeValidation},
	{ErrInvariant, domainagg.CodeInvariantViolation},
}

func tagged(sentinel error, msg string) error {
	return errors.Join(sentinel, errors.New(strings.TrimSpace(msg)))
}

func ValidationError(msg string) error { return tagged(ErrValidation, msg) }
func InvariantError(msg string) error  { return tagged(ErrInvariant, msg) }

// MapError classifies a failure from a write body, the driver or the
// context into a *domainagg.Error. Already-classified errors pass through.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*domainagg.Error); ok {
		return err
	}
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.sentinel) {
			return domainagg.Wrap(sc.code, op, err)
		}
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domainagg.Wrap(domainagg.CodeNotFound, op, err)
	case errors.Is(err, context.Canceled):
		// the caller gave up; repeating the call on its behalf is wrong
		return domainagg.Wrap(domainagg.CodeCanceled, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return domainagg.Wrap(domainagg.CodeRetryable, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505":
			return domainagg.Wrap(domainagg.CodeConflict, op, err) // unique_violation
		case "23503":
			return domainagg.Wrap(domainagg.CodePreconditionFailed, op, err) // foreign_key_violation
		case "40001", "40P01", "55P03":
			return domainagg.Wrap(domainagg.CodeRetryable, op, err) // serialization/deadlock/lock_not_available
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "duplicate key"),
		strings.Contains(msg, "unique constraint failed"),
		strings.Contains(msg, "already exists"):
		return domainagg.Wrap(domainagg.CodeConflict, op, err)
	case strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "serialization"),
		strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "temporar"):
		return domainagg.Wrap(domainagg.CodeRetryable, op, err)
	default:
		return domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
}

func reasonError(code domainagg.ErrorCode, reason domainagg.Reason, op, msg string, cause error) error {
	return &domainagg.Error{
		Code:    code,
		Reason:  reason,
		Op:      op,
		Message: strings.TrimSpace(msg),
		Cause:   cause,
	}
}

// raceLost reports a row that vanished between the pre-check and the lock.
// Nothing was written, so the caller may retry.
func raceLost(op, msg string) error {
	return reasonError(domainagg.CodeRetryable, domainagg.ReasonRaceLost, op, msg, nil)
}
