// Package directory stores the recipient list and its delivery statuses.
//
// Schema and lookup belong here, not in the send engine: the engine only
// reads ordered batches and flips one status field per recipient.
package directory

import (
	"strings"
	"time"

	"outreach/internal/delivery"
)

// Recipient is one directory row as seen by the engine.
type Recipient struct {
	ID              int64
	Email           string
	Name            string
	CompanyType     string
	Locality        string
	Status          delivery.Status
	StatusChangedAt time.Time
}

// invalidEmailValues are placeholders that show up in scraped data where
// an address should be.
var invalidEmailValues = map[string]struct{}{
	"":              {},
	"none":          {},
	"null":          {},
	"no disponible": {},
	"desconocido":   {},
	"desconocida":   {},
}

// NormalizeEmail lowercases and trims an address for comparison. It
// returns "" for placeholder values, signalling "no usable address".
func NormalizeEmail(raw string) string {
	e := strings.ToLower(strings.TrimSpace(raw))
	if _, bad := invalidEmailValues[e]; bad {
		return ""
	}
	return e
}

// Dedupe drops recipients without a usable address and collapses
// duplicates by normalized address, keeping the first occurrence. A run
// must never process the same address twice, so this runs before every
// batch is handed to the send loop.
func Dedupe(in []Recipient) []Recipient {
	seen := make(map[string]struct{}, len(in))
	out := make([]Recipient, 0, len(in))
	for _, r := range in {
		e := NormalizeEmail(r.Email)
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		r.Email = e
		out = append(out, r)
	}
	return out
}
