package services

import (
	"errors"
	"fmt"
)

// ValidationError rejects bad input before anything is mutated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// PersistenceError wraps a datastore failure. The desk is left untouched when one is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NotificationError is best-effort and never reverts the change that triggered it.
type NotificationError struct {
	Err error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification failed: %v", e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

var (
	ErrRecordNotFound        = errors.New("service record not found")
	ErrRecordBusy            = errors.New("service record is being updated, try again")
	ErrNoPendingConfirmation = errors.New("no pending confirmation")
	ErrItemsFrozen           = &ValidationError{Field: "serviceStatus", Message: "service items cannot change after delivery"}
)

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
