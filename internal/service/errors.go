package service

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure.  Kinds are stable: the transport maps
// them to protocol errors and clients key their guidance on them.
type Kind string

const (
	KindNotEligible           Kind = "not_eligible"
	KindRequestClosed         Kind = "request_closed"
	KindDuplicateActiveBid    Kind = "duplicate_active_bid"
	KindInvalidRange          Kind = "invalid_range"
	KindOverTarget            Kind = "over_target"
	KindIncompleteCoverage    Kind = "incomplete_coverage"
	KindIllegalTransition     Kind = "illegal_transition"
	KindResubmissionExhausted Kind = "resubmission_exhausted"
	KindNotFound              Kind = "not_found"
)

// Error is a business-rule failure.  An operation that returns an *Error
// has performed no mutation.  Business-rule errors are not retryable.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, service.ErrOverTarget).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.  Their messages are the default text of each kind.
var (
	ErrNotEligible           = &Error{Kind: KindNotEligible, Message: "caller is not eligible for this action"}
	ErrRequestClosed         = &Error{Kind: KindRequestClosed, Message: "request is not accepting this action"}
	ErrDuplicateActiveBid    = &Error{Kind: KindDuplicateActiveBid, Message: "provider already has a pending bid on this request"}
	ErrInvalidRange          = &Error{Kind: KindInvalidRange, Message: "value out of range"}
	ErrOverTarget            = &Error{Kind: KindOverTarget, Message: "selection exceeds target coverage"}
	ErrIncompleteCoverage    = &Error{Kind: KindIncompleteCoverage, Message: "selection does not match target coverage"}
	ErrIllegalTransition     = &Error{Kind: KindIllegalTransition, Message: "transition not allowed from current state"}
	ErrResubmissionExhausted = &Error{Kind: KindResubmissionExhausted, Message: "kyc resubmission already used"}
	ErrNotFound              = &Error{Kind: KindNotFound, Message: "not found"}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err when it is an engine error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Retryable reports whether err may succeed when retried unchanged.
// Business-rule errors never do; infrastructure errors might, and the
// retry policy for them belongs to the caller.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	_, business := KindOf(err)
	return !business
}
