// Package fingerprint computes the content fingerprint used to detect
// duplicate casting-call records.
//
// The fingerprint is SHA-256 over the fields joined with "|", in lowercase
// hex. Fields are hashed exactly as given: no trimming, no case folding.
// "Actor" and "actor" are different records.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/hazyhaar/casting/casting/internal/record"
)

// Separator joins fields before hashing.
const Separator = "|"

// Of returns the fingerprint of fields.
func Of(fields ...string) string {
	h := sha256.Sum256([]byte(strings.Join(fields, Separator)))
	return hex.EncodeToString(h[:])
}

// Record returns the fingerprint of a candidate: title, description,
// organization and location. Provenance fields do not participate, so the
// same call posted on two sources is one record.
func Record(c record.Candidate) string {
	return Of(c.Title, c.Description, c.Organization, c.Location)
}

// Equal reports whether two fingerprints denote the same record.
func Equal(a, b string) bool { return a == b }
