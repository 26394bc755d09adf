package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ValidationError is returned when an entity fails field validation before
// it is written.
type ValidationError struct {
	Entity string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Entity, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func validateStruct(entity string, s interface{}) error {
	v := validator.New()
	if err := v.Struct(s); err != nil {
		return &ValidationError{Entity: entity, Err: err}
	}
	return nil
}
