package common

import (
	"fmt"
)

// ErrItemNotFound is returned when an item with the specified ID is not found.
type ErrItemNotFound struct {
	ID ItemID
}

func (e ErrItemNotFound) Error() string {
	return fmt.Sprintf("item not found: %v", e.ID)
}

// ErrMalformedOperation is returned when an operation violates the data
// model invariants. The operation is discarded; the document is untouched.
type ErrMalformedOperation struct {
	Reason string
}

func (e ErrMalformedOperation) Error() string {
	return fmt.Sprintf("malformed operation: %s", e.Reason)
}

// ErrInvalidOperationType is returned when an invalid operation type is encountered.
type ErrInvalidOperationType struct {
	Type string
}

func (e ErrInvalidOperationType) Error() string {
	return fmt.Sprintf("invalid operation type: %s", e.Type)
}

// ErrInvalidOffset is returned when a visible offset or range is out of
// bounds for the current document. This is a programmer error on the
// local editing side, never a remote-operation error.
type ErrInvalidOffset struct {
	Offset int
	Length int
}

func (e ErrInvalidOffset) Error() string {
	return fmt.Sprintf("offset %d out of range for document of length %d", e.Offset, e.Length)
}

// ErrInvalidEncoding is returned when an invalid encoding format is encountered.
type ErrInvalidEncoding struct {
	Format string
}

func (e ErrInvalidEncoding) Error() string {
	return fmt.Sprintf("invalid encoding format: %s", e.Format)
}

// ErrNotFound is returned when a resource is not found.
type ErrNotFound struct {
	Message string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("not found: %s", e.Message)
}

// ErrClosed is returned when an operation is attempted on a closed component.
type ErrClosed struct {
	Component string
}

func (e ErrClosed) Error() string {
	return fmt.Sprintf("%s is closed", e.Component)
}
