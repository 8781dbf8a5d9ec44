// Package errclass defines stable, machine-readable error classes for dvgate.
package errclass

import "fmt"

// GateError is a stable, machine-readable error class.
type GateError struct {
	Code    string
	Message string
}

func (e *GateError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GateError) Is(target error) bool {
	t, ok := target.(*GateError)
	return ok && e.Code == t.Code
}

// WithMessage returns a new GateError with the same Code but a specific message.
func (e *GateError) WithMessage(msg string) *GateError {
	return &GateError{Code: e.Code, Message: msg}
}

// WithMessagef returns a new GateError with a formatted message.
func (e *GateError) WithMessagef(format string, args ...any) *GateError {
	return &GateError{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// All stable error classes.
var (
	ErrPolicyMissing = &GateError{Code: "E_POLICY_MISSING"}
	ErrPolicyInvalid = &GateError{Code: "E_POLICY_INVALID"}
	ErrGitQuery      = &GateError{Code: "E_GIT_QUERY"}
	ErrNotARepo      = &GateError{Code: "E_NOT_A_REPO"}
	ErrLedgerLocked  = &GateError{Code: "E_LEDGER_LOCKED"}
	ErrLedgerCorrupt = &GateError{Code: "E_LEDGER_CORRUPT"}
	ErrLedgerWrite   = &GateError{Code: "E_LEDGER_WRITE"}
	ErrChainBroken   = &GateError{Code: "E_CHAIN_BROKEN"}
	ErrTokenInvalid  = &GateError{Code: "E_TOKEN_INVALID"}
	ErrTokenReplayed = &GateError{Code: "E_TOKEN_REPLAYED"}
	ErrSmokeFailed   = &GateError{Code: "E_SMOKE_FAILED"}
	ErrNameInvalid   = &GateError{Code: "E_NAME_INVALID"}
	ErrHookExists    = &GateError{Code: "E_HOOK_EXISTS"}
)
