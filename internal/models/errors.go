package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. The typed errors below unwrap to
// these so callers can use errors.Is without caring about details.
var (
	ErrShapeMismatch   = errors.New("shape mismatch")
	ErrEmptyMask       = errors.New("empty mask")
	ErrLengthMismatch  = errors.New("length mismatch")
	ErrMissingMetadata = errors.New("missing metadata")
)

// ShapeMismatchError reports a grid or frame-count disagreement between inputs.
type ShapeMismatchError struct {
	Source string
	Want   string
	Got    string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch in %s: expected %s, got %s", e.Source, e.Want, e.Got)
}

func (e *ShapeMismatchError) Unwrap() error { return ErrShapeMismatch }

// EmptyMaskError reports a required tissue mask that selects no voxels.
type EmptyMaskError struct {
	Mask string
}

func (e *EmptyMaskError) Error() string {
	return fmt.Sprintf("empty mask: %s selects no voxels", e.Mask)
}

func (e *EmptyMaskError) Unwrap() error { return ErrEmptyMask }

// LengthMismatchError reports a series whose length is not the run's frame count.
type LengthMismatchError struct {
	Source string
	Got    int
	Want   int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("length mismatch in %s: got %d entries, expected %d", e.Source, e.Got, e.Want)
}

func (e *LengthMismatchError) Unwrap() error { return ErrLengthMismatch }

// MissingMetadataError reports a required scalar that was not supplied.
type MissingMetadataError struct {
	Field string
}

func (e *MissingMetadataError) Error() string {
	return fmt.Sprintf("missing metadata: %s is required", e.Field)
}

func (e *MissingMetadataError) Unwrap() error { return ErrMissingMetadata }
