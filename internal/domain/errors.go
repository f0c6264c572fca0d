// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the write collides with existing state, such as a
// terminal run being moved to a different terminal status or a period key
// that was already claimed.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates the request was rejected before any write.
var ErrValidation = errors.New("validation failed")
