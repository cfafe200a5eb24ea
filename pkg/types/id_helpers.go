package types

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// NewID creates a new UUIDv4 string in canonical lowercase form.
func NewID() string { return uuid.NewString() }

// ParseID parses a UUID string and returns it in canonical form.
func ParseID(s string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", errors.New("invalid UUID")
	}
	return id.String(), nil
}

// IsZeroID reports whether the string is empty or the zero UUID.
func IsZeroID(s string) bool {
	return s == "" || s == uuid.Nil.String()
}

// DeterministicID derives a stable UUID from the given parts. Repeated
// ingests of the same upstream record map to the same id, so upserts
// update rather than accumulate.
func DeterministicID(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(parts, "\x00"))).String()
}
