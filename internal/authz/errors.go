package authz

import (
	"errors"
	"fmt"
)

// Code identifies an authorization failure independently of the transport.
type Code string

const (
	CodeForbidden           Code = "forbidden"
	CodeInvalidCode         Code = "invalid_code"
	CodeAlreadyUsed         Code = "code_already_used"
	CodeExpired             Code = "code_expired"
	CodeGenerationExhausted Code = "code_generation_exhausted"
	CodePersistenceFailure  Code = "persistence_failure"
	CodeInvalidInput        Code = "invalid_input"
)

// Error is a typed authorization failure. Two *Error values match under
// errors.Is when their codes are equal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrForbidden          = &Error{Code: CodeForbidden, Message: "only god can create invite codes"}
	ErrInvalidCode        = &Error{Code: CodeInvalidCode, Message: "invite code does not exist"}
	ErrCodeAlreadyUsed    = &Error{Code: CodeAlreadyUsed, Message: "invite code has already been redeemed"}
	ErrCodeExpired        = &Error{Code: CodeExpired, Message: "invite code has expired"}
	ErrCodeGenExhausted   = &Error{Code: CodeGenerationExhausted, Message: "could not generate a unique invite code"}
	ErrPersistenceFailure = &Error{Code: CodePersistenceFailure, Message: "authorization store could not be written"}
	ErrMissingExternalID  = &Error{Code: CodeInvalidInput, Message: "external id is required"}
)

// persistenceError wraps an I/O failure so that errors.Is(err, ErrPersistenceFailure) holds.
func persistenceError(op string, err error) error {
	return &Error{Code: CodePersistenceFailure, Message: op, Err: err}
}

// CodeOf returns the authorization code carried by err, if any.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// FromCode returns the sentinel error for code, or nil if the code is unknown.
func FromCode(code Code) error {
	switch code {
	case CodeForbidden:
		return ErrForbidden
	case CodeInvalidCode:
		return ErrInvalidCode
	case CodeAlreadyUsed:
		return ErrCodeAlreadyUsed
	case CodeExpired:
		return ErrCodeExpired
	case CodeGenerationExhausted:
		return ErrCodeGenExhausted
	case CodePersistenceFailure:
		return ErrPersistenceFailure
	case CodeInvalidInput:
		return ErrMissingExternalID
	}
	return nil
}
