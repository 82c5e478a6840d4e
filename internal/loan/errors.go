package loan

import (
	"errors"
	"fmt"
)

// Kind classifies a business rule failure.
type Kind string

const (
	KindBorrowerNotFound     Kind = "BORROWER_NOT_FOUND"
	KindBookNotFound         Kind = "BOOK_NOT_FOUND"
	KindLoanNotFound         Kind = "LOAN_NOT_FOUND"
	KindBookUnavailable      Kind = "BOOK_UNAVAILABLE"
	KindOverdueBlock         Kind = "OVERDUE_BLOCK"
	KindFineLimitExceeded    Kind = "FINE_LIMIT_EXCEEDED"
	KindLoanLimitExceeded    Kind = "LOAN_LIMIT_EXCEEDED"
	KindLoanOverdue          Kind = "LOAN_OVERDUE"
	KindLoanNotActive        Kind = "LOAN_NOT_ACTIVE"
	KindLoanNotReturnable    Kind = "LOAN_NOT_RETURNABLE"
	KindRenewalLimitExceeded Kind = "RENEWAL_LIMIT_EXCEEDED"
	KindAccessDenied         Kind = "ACCESS_DENIED"
	KindInvalidLoanDate      Kind = "INVALID_LOAN_DATE"
)

// Error is a rule violation reported by the engine. Message is meant for
// the person who made the request.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrOverdueBlock)
// holds whatever the message says.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrBorrowerNotFound     = &Error{Kind: KindBorrowerNotFound, Message: "borrower not found"}
	ErrBookNotFound         = &Error{Kind: KindBookNotFound, Message: "book not found"}
	ErrLoanNotFound         = &Error{Kind: KindLoanNotFound, Message: "loan not found"}
	ErrBookUnavailable      = &Error{Kind: KindBookUnavailable, Message: "book is unavailable"}
	ErrOverdueBlock         = &Error{Kind: KindOverdueBlock, Message: "borrower has overdue loans"}
	ErrFineLimitExceeded    = &Error{Kind: KindFineLimitExceeded, Message: "outstanding fines exceed the limit"}
	ErrLoanLimitExceeded    = &Error{Kind: KindLoanLimitExceeded, Message: "active loan limit reached"}
	ErrLoanOverdue          = &Error{Kind: KindLoanOverdue, Message: "loan is overdue"}
	ErrLoanNotActive        = &Error{Kind: KindLoanNotActive, Message: "loan is not active"}
	ErrLoanNotReturnable    = &Error{Kind: KindLoanNotReturnable, Message: "loan is not returnable"}
	ErrRenewalLimitExceeded = &Error{Kind: KindRenewalLimitExceeded, Message: "renewal limit reached"}
	ErrAccessDenied         = &Error{Kind: KindAccessDenied, Message: "access denied"}
	ErrInvalidLoanDate      = &Error{Kind: KindInvalidLoanDate, Message: "loan date out of range"}
)

// ErrConcurrencyConflict is returned by a Store when a conditional update
// lost against a concurrent writer.
var ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")

// KindOf returns the kind of the first *Error in err's chain, or "" if
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
