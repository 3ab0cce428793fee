// Package idgen generates lexicographically sortable identifiers for
// grants, billing periods, invoices and invoice items.
package idgen

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

var entropy = ulid.Monotonic(rand.Reader, 0)

// New returns a prefixed ULID, e.g. New("grant") -> "grant_01HF...".
func New(prefix string) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	if prefix == "" {
		return id.String()
	}
	return prefix + "_" + id.String()
}
