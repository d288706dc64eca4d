package genpass

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyLoaded is returned by Load on any state other than Unloaded.
	ErrAlreadyLoaded = errors.New("module already loaded")

	// ErrNothingToSave is returned when the saved text is empty or whitespace.
	ErrNothingToSave = errors.New("no data available to save")
)

// UnknownCategoryError occurs when a category token is not one of the six
// known names.
type UnknownCategoryError struct {
	Token string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown category value: %s", e.Token)
}

// InvalidCategoryError occurs when a numeric category is outside 0..5.
type InvalidCategoryError struct {
	Value int64
}

func (e *InvalidCategoryError) Error() string {
	return fmt.Sprintf("category %d out of range (must be 0..5)", e.Value)
}

// GenerationError occurs when generate_data reports a non-zero status.
type GenerationError struct {
	Category Category
	Count    uint32
	Status   uint32
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate_data(%s, %d) returned status %d", e.Category, e.Count, e.Status)
}

// NotReadyError occurs when the module is invoked outside the Ready state.
type NotReadyError struct {
	State State
	Err   error
}

func (e *NotReadyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("module not ready (state: %s): %v", e.State, e.Err)
	}
	return fmt.Sprintf("module not ready (state: %s)", e.State)
}

func (e *NotReadyError) Unwrap() error {
	return e.Err
}

// InitializationError occurs when the one-time initializer fails.
type InitializationError struct {
	Function string
	Err      error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initializer '%s' failed: %v", e.Function, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}
