package domain

import (
	"errors"
)

// Kind classifies domain errors for callers and transports
type Kind int

const (
	// KindFatal is any storage or programming failure not otherwise classified
	KindFatal Kind = iota
	KindNotFound
	KindValidation
	KindConflict
	KindForbidden
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindExternal:
		return "external_failure"
	default:
		return "fatal"
	}
}

// Error is a classified domain error with a stable machine readable code
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Domain errors
var (
	// Not found
	ErrUnitNotFound          = newError(KindNotFound, "UNIT_NOT_FOUND", "inventory unit not found")
	ErrSectionNotFound       = newError(KindNotFound, "SECTION_NOT_FOUND", "section not found")
	ErrResaleItemNotFound    = newError(KindNotFound, "ITEM_NOT_FOUND", "resale item not found")
	ErrReservationNotFound   = newError(KindNotFound, "RESERVATION_NOT_FOUND", "reservation not found")
	ErrPaymentNotFound       = newError(KindNotFound, "PAYMENT_NOT_FOUND", "payment not found")
	ErrPayoutNotFound        = newError(KindNotFound, "PAYOUT_NOT_FOUND", "payout not found")
	ErrPayoutAccountNotFound = newError(KindNotFound, "PAYOUT_ACCOUNT_NOT_FOUND", "payout account not found")

	// Validation
	ErrInvalidQuantity        = newError(KindValidation, "INVALID_QUANTITY", "quantity must be greater than zero")
	ErrNoLines                = newError(KindValidation, "NO_LINES", "at least one hold line is required")
	ErrPurchaseLimitExceeded  = newError(KindValidation, "PURCHASE_LIMIT_EXCEEDED", "requested quantity exceeds the per-purchase limit")
	ErrSeatMismatch           = newError(KindValidation, "SEAT_MISMATCH", "requested seats do not match the quantity or the section")
	ErrSeatsRequireSection    = newError(KindValidation, "SEATS_REQUIRE_SECTION", "explicit seats can only be requested for a section")
	ErrInvalidCapacity        = newError(KindValidation, "INVALID_CAPACITY", "capacity must not be negative")
	ErrInvalidTTL             = newError(KindValidation, "INVALID_TTL", "hold ttl is out of range")
	ErrMissingCaptureToken    = newError(KindValidation, "MISSING_CAPTURE_TOKEN", "capture token is required")
	ErrMissingUploadLocation  = newError(KindValidation, "MISSING_LOCATION", "artifact location is required")
	ErrMissingAuthorizationID = newError(KindValidation, "MISSING_AUTHORIZATION", "authorization id is required")
	ErrInvalidPayoutStatus    = newError(KindValidation, "INVALID_PAYOUT_STATUS", "unknown payout status")
	ErrMissingSectionName     = newError(KindValidation, "MISSING_SECTION_NAME", "section name is required")
	ErrMissingReason          = newError(KindValidation, "MISSING_REASON", "a rejection reason is required")
	ErrInvalidID              = newError(KindValidation, "INVALID_ID", "identifier is malformed")

	// Conflict
	ErrInsufficientStock      = newError(KindConflict, "INSUFFICIENT_STOCK", "insufficient stock available")
	ErrSeatCollision          = newError(KindConflict, "SEAT_COLLISION", "requested seats are already taken")
	ErrSaleStarted            = newError(KindConflict, "SALE_STARTED", "sales are closed because the event has started")
	ErrUnitNotOnSale          = newError(KindConflict, "UNIT_NOT_ON_SALE", "inventory unit is not approved for sale")
	ErrCannotBuyOwnEvent      = newError(KindConflict, "CANNOT_BUY_OWN_EVENT", "an event owner cannot buy their own event")
	ErrItemAlreadyHeld        = newError(KindConflict, "ITEM_ALREADY_HELD", "resale item is already held by another reservation")
	ErrSectionCapacityExceeds = newError(KindConflict, "SECTION_CAPACITY_EXCEEDED", "section capacities exceed the unit capacity")
	ErrHoldExpired            = newError(KindConflict, "HOLD_EXPIRED", "hold has expired")
	ErrIllegalTransition      = newError(KindConflict, "ILLEGAL_TRANSITION", "state transition is not allowed")
	ErrSerializationConflict  = newError(KindConflict, "CONCURRENT_UPDATE", "a concurrent update won, please retry")
	ErrCaptureFailed          = newError(KindConflict, "CAPTURE_FAILED", "payment capture was not approved")
	ErrTestPaymentDisabled    = newError(KindConflict, "TEST_PAYMENT_DISABLED", "test payment confirmation is disabled")
	ErrUploadDeadlinePassed   = newError(KindConflict, "UPLOAD_DEADLINE_PASSED", "upload deadline has passed")
	ErrNotManualFulfillment   = newError(KindConflict, "NOT_MANUAL_FULFILLMENT", "reservation does not accept uploads")
	ErrNotPaid                = newError(KindConflict, "NOT_PAID", "reservation is not paid")
	ErrPayoutNotEligible      = newError(KindConflict, "PAYOUT_NOT_ELIGIBLE", "reservation is not approved for payout")
	ErrDuplicatePayout        = newError(KindConflict, "DUPLICATE_PAYOUT", "payout already exists")
	ErrDuplicateSection       = newError(KindConflict, "DUPLICATE_SECTION", "a section with this name already exists")
	ErrRefundNotRetryable     = newError(KindConflict, "REFUND_NOT_RETRYABLE", "only failed refunds can be retried")

	// Forbidden
	ErrForbidden = newError(KindForbidden, "FORBIDDEN", "actor is not allowed to perform this action")

	// External
	ErrPaymentProvider = newError(KindExternal, "PAYMENT_PROVIDER_ERROR", "payment provider request failed")
	ErrPayoutProvider  = newError(KindExternal, "PAYOUT_PROVIDER_ERROR", "payout provider request failed")
)

// DetailedError attaches structured details to a domain error
type DetailedError struct {
	Err     error
	Details map[string]any
}

func (e *DetailedError) Error() string {
	return e.Err.Error()
}

func (e *DetailedError) Unwrap() error {
	return e.Err
}

// WithDetails wraps err with structured details such as remaining stock or colliding seats
func WithDetails(err error, details map[string]any) error {
	if err == nil {
		return nil
	}
	return &DetailedError{Err: err, Details: details}
}

// DetailsOf returns the details attached to err, if any
func DetailsOf(err error) map[string]any {
	var d *DetailedError
	if errors.As(err, &d) {
		return d.Details
	}
	return nil
}

// KindOf returns the classification of err, KindFatal when unclassified
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// CodeOf returns the stable code of err, INTERNAL_ERROR when unclassified
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL_ERROR"
}
