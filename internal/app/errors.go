package app

import "fmt"

// DomainError is a caller-visible failure with a stable machine code and the
// HTTP status it maps to. Version-store sentinels (InvalidSnapshot,
// ProtectedVersion, ...) are translated in mapError; DomainError covers
// request-level validation and feature gates such as MIRROR_DISABLED.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
