package sale

import "errors"

var (
	ErrInvalidAddress    = errors.New("sale: invalid address")
	ErrInvalidPool       = errors.New("sale: invalid pool")
	ErrZeroQuantity      = errors.New("sale: quantity must be positive")
	ErrInvalidCode       = errors.New("sale: invalid referral code")
	ErrUnknownCode       = errors.New("sale: unknown referral code")
	ErrSelfReferral      = errors.New("sale: self referral")
	ErrSelfTransfer      = errors.New("sale: self transfer")
	ErrCodeTaken         = errors.New("sale: referral code already assigned")
	ErrAccountHasCode    = errors.New("sale: account already has a code")
	ErrPaymentMismatch   = errors.New("sale: payment does not match quote")
	ErrScheduleInit      = errors.New("sale: schedule already initialized")
	ErrScheduleInvalid   = errors.New("sale: invalid schedule")
	ErrScheduleNotSet    = errors.New("sale: schedule not initialized")
	ErrDayFinalized      = errors.New("sale: day finalized")
	ErrNothingToClaim    = errors.New("sale: nothing to claim")
	ErrInsufficientUnits = errors.New("sale: insufficient units")
	ErrPaused            = errors.New("sale: paused")
	ErrNotPaused         = errors.New("sale: not paused")
	ErrUnauthorized      = errors.New("sale: unauthorized")
	ErrQuoteUnavailable  = errors.New("sale: quote unavailable")
	ErrInvalidAmount     = errors.New("sale: amount must be positive")
	ErrInvalidTimestamp  = errors.New("sale: invalid timestamp")
	ErrCurveInvalid      = errors.New("sale: invalid pricing curve")
	ErrEmptyBatch        = errors.New("sale: empty batch")
	ErrBatchEntryInvalid = errors.New("sale: invalid batch entry")
	ErrStateCorrupt      = errors.New("sale: corrupt persisted state")
)
