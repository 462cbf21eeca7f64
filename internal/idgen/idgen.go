// Package idgen mints the 128-bit opaque identifiers used for every
// persistent entity.
package idgen

import "github.com/google/uuid"

// New returns a fresh random identifier as its canonical string form.
func New() string {
	return uuid.New().String()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
