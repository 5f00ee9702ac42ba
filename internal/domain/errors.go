package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrCollectionNotFound signals a lookup on a missing collection id.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrCreateCollectionConflict signals a collection id already bound to a different model.
	ErrCreateCollectionConflict = errors.New("collection bound to different model")
	// ErrDeleteBlueCollection signals an attempt to delete the serving blue collection.
	ErrDeleteBlueCollection = errors.New("cannot delete blue collection")
	// ErrLockAcquisition signals exhausted retries on row-level locks. Retryable by resubmission.
	ErrLockAcquisition = errors.New("row lock acquisition failed")
	// ErrDimensionMismatch signals a vector length different from the collection dimensionality.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrObjectNotFound signals a missing object.
	ErrObjectNotFound = errors.New("object not found")
	// ErrDuplicateObject signals an insert with an object id that already exists.
	ErrDuplicateObject = errors.New("object already exists")
)

// DimensionError wraps ErrDimensionMismatch with the offending lengths.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: want %d, got %d", ErrDimensionMismatch.Error(), e.Want, e.Got)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// NewDimensionError creates a dimension mismatch error.
func NewDimensionError(want, got int) error {
	return &DimensionError{Want: want, Got: got}
}
