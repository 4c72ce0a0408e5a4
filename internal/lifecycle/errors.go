package lifecycle

import "errors"

var (
	// ErrInvalidTransition means the requested state change is not legal from
	// the entity's current state. Nothing is mutated.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrValidation means the caller's input is insufficient or inconsistent.
	ErrValidation = errors.New("validation failed")
	// ErrPermissionDenied means the acting party may not perform this operation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrOutOfOrderFunding means a milestone would be funded before an earlier
	// milestone of the same contract under the strict-order policy.
	ErrOutOfOrderFunding = errors.New("out of order funding")
	// ErrOverpayment means a money movement would push a contract beyond its
	// total_amount (or paid beyond billed).
	ErrOverpayment = errors.New("overpayment")
)
