package ids

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed random identifier such as "trx-3f2c...".
func New(prefix string) string {
	id := uuid.NewString()
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		return id
	}
	return prefix + "-" + id
}

// Valid reports whether id carries the given prefix followed by a UUID.
func Valid(prefix, id string) bool {
	rest, ok := strings.CutPrefix(id, prefix+"-")
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
