// Package uuid wraps UUID generation behind a minimal interface.
package uuid

import "github.com/google/uuid"

// New returns a new random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}
