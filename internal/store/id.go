package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

// idBytes random bytes give a 12 character identifier (48 bits).
const idBytes = 6

var idPattern = regexp.MustCompile(`^[0-9a-f]{12}$`)

// NewID returns a fresh submission identifier.
func NewID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ValidID reports whether id has the shape NewID produces. Anything else can
// never name a stored submission.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}
