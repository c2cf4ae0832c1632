// Package fault defines the error kinds shared by the catalog services.
// Services wrap these sentinels so the HTTP layer can map a failure to a
// status code with a single errors.Is check per kind.
package fault

import "errors"

var (
	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates an input value is outside its allowed bounds.
	ErrValidation = errors.New("validation failed")
	// ErrPermissionDenied indicates the caller lacks a resolved identity
	// or does not own the entity being mutated.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrConstraintViolation indicates a concurrent write tripped a
	// uniqueness constraint and the operation could not be resolved.
	ErrConstraintViolation = errors.New("constraint violation")
)
