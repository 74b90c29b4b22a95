package repositories

import (
	"errors"
	"fmt"
)

// ErrorKind classifies persistence failures for adapters without their own error type.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindConflict
	KindUnavailable
)

// StoreError implements RepositoryError for SQL backed repositories.
type StoreError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

// NewStoreError constructs a StoreError. A nil err yields a message derived from the kind.
func NewStoreError(op string, kind ErrorKind, err error) *StoreError {
	if err == nil {
		err = errors.New(kind.String())
	}
	return &StoreError{Op: op, Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap exposes the underlying error.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == KindNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == KindConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == KindUnavailable }

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "version conflict"
	case KindUnavailable:
		return "store unavailable"
	default:
		return "store error"
	}
}
