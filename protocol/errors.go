package protocol

import (
	"errors"
	"fmt"
)

// ValidationError reports an attribute or rating outside its allowed range.
// It is raised before any ciphertext is produced and never reaches the ledger.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Precondition errors: the submitted transaction conflicts with committed
// state. Surfaced verbatim; retrying without a state change cannot succeed.
var (
	ErrProfileExists  = errors.New("profile already exists")
	ErrNoProfile      = errors.New("no active profile")
	ErrUnknownMatch   = errors.New("unknown match")
	ErrNotAParty      = errors.New("caller is not a party to this match")
	ErrNotMatched     = errors.New("match not mutually accepted")
	ErrSelfLike       = errors.New("cannot like yourself")
	ErrAlreadyRated   = errors.New("match already rated by caller")
	ErrNotRevealable  = errors.New("match not mutually accepted, cannot reveal")
	ErrNoTokenAccount = errors.New("no token account")
	ErrNotOracle      = errors.New("caller is not the verification oracle")
	ErrNotAdmin       = errors.New("caller is not the token admin")
	ErrNotScorer      = errors.New("caller is not the compatibility scorer")
)

// Funds errors: a payment or balance is below the required amount.
// Never partially applied; the caller must top up before retrying.
var (
	ErrInsufficientStake   = errors.New("payment below required stake")
	ErrInsufficientBalance = errors.New("stake balance below requested amount")
	ErrInsufficientTokens  = errors.New("token balance below cost")
)

// SubmissionError reports a transport or ordering failure before the commit
// was observed. The outcome is ambiguous: the transaction may or may not have
// been committed. The caller must re-query state (or resubmit with the same
// idempotency key) rather than blindly retry.
type SubmissionError struct {
	Op             string
	IdempotencyKey string
	Err            error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission of %s failed with ambiguous outcome: %v", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ConfigurationError is fatal at startup; no partial operation proceeds.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}
