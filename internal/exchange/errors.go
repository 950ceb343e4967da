package exchange

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by Service wraps exactly one of these,
// or is a *ledger.BalanceError.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("not authorized")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
)

// kindError carries a user-facing message and unwraps to its kind.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newError(kind error, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

var (
	ErrSelfApplication      = newError(ErrValidation, "you cannot apply to your own service")
	ErrServiceNotOpen       = newError(ErrInvalidState, "service is not open for applications")
	ErrDuplicateApplication = newError(ErrConflict, "you have already applied to this service")
	// ErrApplicationRejected is a duplicate application whose earlier attempt
	// was rejected. The rejection is final.
	ErrApplicationRejected = &kindError{kind: ErrDuplicateApplication, msg: "your application to this service was rejected and cannot be resubmitted"}
	ErrMessageRequired     = newError(ErrValidation, "message is required")
	ErrInvalidTimeRange    = newError(ErrValidation, "end time must be after start time")
	ErrAlreadySubmitted    = newError(ErrConflict, "you have already submitted your survey")
	ErrAlreadyResponded    = newError(ErrConflict, "this proposal has already been responded to")
	ErrProposalPending     = newError(ErrConflict, "a schedule proposal is already pending for this service")
)

// InvalidStateError names the state an entity is in and the states the
// requested transition needs.
type InvalidStateError struct {
	Entity   string
	Current  string
	Required []string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s is %s; this action requires it to be %s",
		e.Entity, e.Current, strings.Join(e.Required, " or "))
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

func invalidState[S ~string](entity string, current S, required ...S) error {
	req := make([]string, len(required))
	for i, r := range required {
		req[i] = string(r)
	}
	return &InvalidStateError{Entity: entity, Current: string(current), Required: req}
}

func notFound(entity string) error {
	return newError(ErrNotFound, "%s not found", entity)
}
