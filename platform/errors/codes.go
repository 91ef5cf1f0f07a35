package errors

// Code identifies a class of protocol failure.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Encoding boundary violations. Never signed.
	CodeMalformedMove Code = "MALFORMED_MOVE"
	// The rules authority rejected the move. Not disputable on its own.
	CodeIllegalMove Code = "ILLEGAL_MOVE"
	// I/O failure or timeout talking to the rules authority or the arbiter.
	CodeAuthorityUnavailable Code = "AUTHORITY_UNAVAILABLE"
	// A peer move failed signature, nonce or recomputation checks.
	CodeVerificationFailed Code = "VERIFICATION_FAILED"

	CodeKeyInvalidated     Code = "KEY_INVALIDATED"
	CodeRegistrationFailed Code = "REGISTRATION_FAILED"
	CodeNotFound           Code = "NOT_FOUND"

	CodeDisputeSubmissionTimedOut Code = "DISPUTE_SUBMISSION_TIMED_OUT"
	CodeDisputeRejected           Code = "DISPUTE_REJECTED"
	// The arbiter accepted a dispute but waits for the accused seat.
	CodeDisputePending Code = "DISPUTE_PENDING"

	CodeInvalidStatusTransition Code = "INVALID_STATUS_TRANSITION"
	CodeWrongGame               Code = "WRONG_GAME"
)

// Sentinels for errors.Is checks. Matching is by code, so any *Error with the
// same code satisfies them regardless of message or metadata.
var (
	ErrMalformedMove             = New(CodeMalformedMove, "malformed move")
	ErrIllegalMove               = New(CodeIllegalMove, "illegal move")
	ErrAuthorityUnavailable      = New(CodeAuthorityUnavailable, "authority unavailable")
	ErrVerificationFailed        = New(CodeVerificationFailed, "verification failed")
	ErrKeyInvalidated            = New(CodeKeyInvalidated, "session key invalidated")
	ErrRegistrationFailed        = New(CodeRegistrationFailed, "session key registration failed")
	ErrNotFound                  = New(CodeNotFound, "not found")
	ErrDisputeSubmissionTimedOut = New(CodeDisputeSubmissionTimedOut, "dispute submission timed out")
	ErrDisputeRejected           = New(CodeDisputeRejected, "dispute rejected")
	ErrDisputePending            = New(CodeDisputePending, "dispute awaiting response")
	ErrInvalidStatusTransition   = New(CodeInvalidStatusTransition, "invalid status transition")
	ErrWrongGame                 = New(CodeWrongGame, "event for another game")
)
