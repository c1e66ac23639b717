package utils

import "github.com/google/uuid"

// GenID returns a fresh opaque id for messages and signals.
func GenID() string {
	return uuid.NewString()
}
