package domain

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Every typed error below matches exactly one of them via errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidState       = errors.New("invalid for current status")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidRelease     = errors.New("invalid release")
	ErrInvalidFulfill     = errors.New("invalid fulfill")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrNotFound           = errors.New("not found")
)

// ValidationError rejects malformed input before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StateError is returned when an operation is not allowed in the aggregate's current status.
type StateError struct {
	Aggregate string
	Status    string
	Operation string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s is invalid for current status %s", e.Aggregate, e.Operation, e.Status)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

// InsufficientStockError reports a reservation that would oversell a product.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested=%d, available=%d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// InvalidReleaseError reports a release of more units than are reserved.
type InvalidReleaseError struct {
	ProductID string
	Requested int
	Reserved  int
}

func (e *InvalidReleaseError) Error() string {
	return fmt.Sprintf("invalid release for product %s: requested=%d, reserved=%d",
		e.ProductID, e.Requested, e.Reserved)
}

func (e *InvalidReleaseError) Is(target error) bool { return target == ErrInvalidRelease }

// InvalidFulfillError reports a fulfillment that is not backed by a reservation.
type InvalidFulfillError struct {
	ProductID string
	Requested int
	Reserved  int
}

func (e *InvalidFulfillError) Error() string {
	return fmt.Sprintf("invalid fulfill for product %s: requested=%d, reserved=%d",
		e.ProductID, e.Requested, e.Reserved)
}

func (e *InvalidFulfillError) Is(target error) bool { return target == ErrInvalidFulfill }

// ProductUnavailableError is returned when a product is not ACTIVE or has nothing left to sell.
type ProductUnavailableError struct {
	ProductID string
	Status    ProductStatus
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %s is not available (status=%s)", e.ProductID, e.Status)
}

func (e *ProductUnavailableError) Is(target error) bool { return target == ErrProductUnavailable }

// NotFoundError is used by repositories and lookups.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
