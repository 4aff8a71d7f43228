// Package uuidgen generates the identifiers stored in jobs.uuid.
package uuidgen

import "github.com/google/uuid"

// New returns a fresh random (v4) UUID string.
func New() string {
	return uuid.New().String()
}
