package model

import "errors"

// Domain error taxonomy. Services return these (possibly wrapped);
// the HTTP layer maps them to status codes with errors.Is.
var (
	// ErrInvalidParameters covers missing or malformed input.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrNotFound is returned for an unknown player, symbol, or card.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds is returned when a buy or purchase exceeds cash.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientHoldings is returned when a sell exceeds holdings.
	ErrInsufficientHoldings = errors.New("insufficient holdings")

	// ErrLimitExceeded is returned when a buy would exceed the symbol's
	// max-holdings cap (including any active cap-bonus card).
	ErrLimitExceeded = errors.New("maximum holdings exceeded")

	// ErrCooldownActive is returned when a player trades again before
	// the configured cooldown has elapsed since their last trade.
	ErrCooldownActive = errors.New("cooldown period active")

	// ErrSessionEnded is returned once the session clock has run out.
	ErrSessionEnded = errors.New("session has ended")

	// ErrSessionNotReached is returned when a scheduled event is fired
	// before its session time, or before the session has started.
	ErrSessionNotReached = errors.New("event time has not been reached")

	// ErrAlreadyApplied signals a scheduled event whose idempotency
	// marker already exists. Callers treat it as success, not failure.
	ErrAlreadyApplied = errors.New("event already applied")

	// ErrVersionConflict is a failed conditional player update; the
	// caller re-reads and retries rather than overwriting.
	ErrVersionConflict = errors.New("player row version conflict")

	// Card lifecycle violations.
	ErrCardAlreadyPurchased = errors.New("card already purchased")
	ErrCardNotPurchased     = errors.New("card not purchased")
	ErrCardAlreadyActive    = errors.New("card already active")
	ErrPrerequisiteMissing  = errors.New("prerequisite card not purchased")

	// Insurance violations.
	ErrInsuranceUsed       = errors.New("insurance already used")
	ErrInsuranceIneligible = errors.New("total assets above insurance threshold")
)
