package domain

import (
	"errors"
	"fmt"
)

// AppError is the base domain error type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an AppError with the same code, so callers can
// write errors.Is(err, domain.ErrInsufficientFunds()).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// Error codes.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeValidation          = "VALIDATION_ERROR"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeInternal            = "INTERNAL_ERROR"
	CodeInsufficientFunds   = "INSUFFICIENT_FUNDS"
	CodeWalletBlocked       = "WALLET_BLOCKED"
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	CodeDuplicateMovement   = "DUPLICATE_MOVEMENT"
	CodeInvalidCommission   = "INVALID_COMMISSION"
	CodeInvalidAmount       = "INVALID_AMOUNT"
	CodeDuplicateEvent      = "DUPLICATE_EVENT"
	CodeUnmatchedReference  = "UNMATCHED_REFERENCE"
	CodeProviderCallFailed  = "PROVIDER_CALL_FAILED"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeConstraintConflict  = "CONSTRAINT_CONFLICT"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeTerminalState       = "TERMINAL_STATE"
	CodeRateLimited         = "RATE_LIMITED"
	CodeLimitExceeded       = "LIMIT_EXCEEDED"
)

// HasCode reports whether err wraps an AppError carrying code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Standard domain error constructors.

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg, Status: 400}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: msg, Status: 401}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Code: CodeForbidden, Message: msg, Status: 403}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Status: 500, Cause: cause}
}

// Ledger errors.

func ErrInsufficientFunds() *AppError {
	return &AppError{Code: CodeInsufficientFunds, Message: "insufficient funds", Status: 400}
}

func ErrWalletBlocked() *AppError {
	return &AppError{Code: CodeWalletBlocked, Message: "wallet is blocked", Status: 403}
}

func ErrAccountNotFound(id string) *AppError {
	return &AppError{Code: CodeAccountNotFound, Message: fmt.Sprintf("account %s not found", id), Status: 404}
}

func ErrDuplicateMovement(correlation string) *AppError {
	return &AppError{Code: CodeDuplicateMovement, Message: fmt.Sprintf("movement already recorded for %s", correlation), Status: 409}
}

func ErrInvalidCommission(msg string) *AppError {
	return &AppError{Code: CodeInvalidCommission, Message: msg, Status: 422}
}

func ErrInvalidAmount(msg string) *AppError {
	return &AppError{Code: CodeInvalidAmount, Message: msg, Status: 400}
}

// Reconciliation errors. Both are acknowledged to the provider.

func ErrDuplicateEvent(eventID string) *AppError {
	return &AppError{Code: CodeDuplicateEvent, Message: fmt.Sprintf("event %s already processed", eventID), Status: 200}
}

func ErrUnmatchedReference(kind, ref string) *AppError {
	return &AppError{Code: CodeUnmatchedReference, Message: fmt.Sprintf("no local %s for %s", kind, ref), Status: 200}
}

// Provider and orchestration errors.

func ErrProviderCallFailed(cause error) *AppError {
	return &AppError{Code: CodeProviderCallFailed, Message: "payment provider call failed", Status: 502, Cause: cause}
}

func ErrProviderUnavailable() *AppError {
	return &AppError{Code: CodeProviderUnavailable, Message: "payment provider temporarily unavailable", Status: 503}
}

func ErrConstraintConflict(msg string, cause error) *AppError {
	return &AppError{Code: CodeConstraintConflict, Message: msg, Status: 409, Cause: cause}
}

func ErrInvalidTransition(from, to string) *AppError {
	return &AppError{Code: CodeInvalidTransition, Message: fmt.Sprintf("transition %s -> %s not allowed", from, to), Status: 409}
}

func ErrTerminalState(status string) *AppError {
	return &AppError{Code: CodeTerminalState, Message: fmt.Sprintf("status %s is terminal", status), Status: 409}
}

func ErrRateLimited(msg string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: msg, Status: 429}
}

func ErrLimitExceeded(limit string, value, requested int64) *AppError {
	return &AppError{
		Code:    CodeLimitExceeded,
		Message: fmt.Sprintf("%s limit %d exceeded (requested %d)", limit, value, requested),
		Status:  422,
	}
}
