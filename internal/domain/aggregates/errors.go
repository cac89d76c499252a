package aggregates

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode standardizes aggregate failure semantics across domains.
type ErrorCode string

const (
	CodeValidation         ErrorCode = "validation"
	CodeNotFound           ErrorCode = "not_found"
	CodeForbidden          ErrorCode = "forbidden"
	CodeConflict           ErrorCode = "conflict"
	CodeInvariantViolation ErrorCode = "invariant_violation"
	CodePreconditionFailed ErrorCode = "precondition_failed"
	CodeRetryable          ErrorCode = "retryable"
	CodeCanceled           ErrorCode = "canceled"
	CodeInternal           ErrorCode = "internal"
)

// Reason narrows an ErrorCode to the specific failure a caller can act on.
type Reason string

const (
	ReasonParentNotFound      Reason = "parent_not_found"
	ReasonChildNotFound       Reason = "child_not_found"
	ReasonMembershipNotFound  Reason = "membership_not_found"
	ReasonOrgMismatch         Reason = "org_mismatch"
	ReasonForbidden           Reason = "forbidden"
	ReasonDuplicateMembership Reason = "duplicate_membership"
	ReasonInvalidPermutation  Reason = "invalid_permutation"
	ReasonRaceLost            Reason = "race_lost"
	ReasonAlreadyRemoved      Reason = "already_removed"
	ReasonSharingUnsupported  Reason = "sharing_unsupported"
	ReasonUnknownRelation     Reason = "unknown_relation"
)

// Error is the canonical aggregate error wrapper.
type Error struct {
	Code    ErrorCode
	Reason  Reason
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	code := string(e.Code)
	if e.Reason != "" {
		code = code + "/" + string(e.Reason)
	}
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, code)
	default:
		return code
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an aggregate error with explicit code + operation.
func NewError(code ErrorCode, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// NewReasonError builds an aggregate error carrying a caller-facing reason.
func NewReasonError(code ErrorCode, reason Reason, op, message string) error {
	return &Error{
		Code:    code,
		Reason:  reason,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
	}
}

// Wrap annotates an existing error with aggregate error semantics.
func Wrap(code ErrorCode, op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(code, op, err.Error(), err)
}

// IsCode checks whether err (or wrapped err) carries the given aggregate code.
func IsCode(err error, code ErrorCode) bool {
	var aggErr *Error
	if !errors.As(err, &aggErr) {
		return false
	}
	return aggErr.Code == code
}

// CodeOf extracts the aggregate error code when available.
func CodeOf(err error) ErrorCode {
	var aggErr *Error
	if !errors.As(err, &aggErr) {
		return ""
	}
	return aggErr.Code
}

// ReasonOf extracts the aggregate error reason when available.
func ReasonOf(err error) Reason {
	var aggErr *Error
	if !errors.As(err, &aggErr) {
		return ""
	}
	return aggErr.Reason
}

// IsReason checks whether err carries the given reason.
func IsReason(err error, reason Reason) bool {
	return reason != "" && ReasonOf(err) == reason
}

// IsRetryable reports whether the failure left no partial state and the
// same call may succeed if repeated.
func IsRetryable(err error) bool {
	return IsCode(err, CodeRetryable)
}
