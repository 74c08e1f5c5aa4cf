// Package ident generates collision-resistant string identifiers for
// outbound bridge calls.
package ident

import (
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// New returns a fresh call identifier.  It never fails: when the
// cryptographically strong source cannot produce a UUID, it falls back to a
// weaker composed token that is still unique enough to correlate calls.
func New() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return weak()
	}
	return id.String()
}

// weak composes four independently drawn bounded random integers rendered in
// base 32.  Not cryptographically strong; only used when the UUID source is
// unavailable.
func weak() string {
	parts := make([]string, 4)
	for i := range parts {
		parts[i] = strconv.FormatUint(uint64(rand.Uint32N(1<<30)), 32)
	}
	return strings.Join(parts, `-`)
}
