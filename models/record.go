// Package models defines the core domain types for the payment-link server.
package models

import "time"

// Record is one issued payment link.
//
// A record is written exactly once, when the link is generated, and is never
// mutated afterwards. Expiry is not stored as a state: it is computed from
// ExpiresAt at read time, so an expired record stays in storage until a
// retention purge removes it.
type Record struct {
	// Amount is kept as the caller's decimal text so that no precision is
	// lost to floating point.
	Amount string `json:"amount"`

	// CreatedAt is the creation time in milliseconds since the Unix epoch.
	CreatedAt int64 `json:"createdAt"`

	// ExpiresAt is CreatedAt plus the expiry duration, in milliseconds.
	// Zero means the record never expires.
	ExpiresAt int64 `json:"expiresAt"`
}

// Mapping is the full identifier → Record association held by a store.
type Mapping map[string]Record

// State is the computed validity of a record at a point in time.
type State string

const (
	// Active records can still be redeemed.
	Active State = "active"
	// Expired records are past ExpiresAt and only kept for bookkeeping.
	Expired State = "expired"
)

// Expired reports whether the record is past its expiry at now.
func (r Record) Expired(now time.Time) bool {
	if r.ExpiresAt == 0 {
		return false
	}
	return now.UnixMilli() > r.ExpiresAt
}

// State returns Active or Expired for the given instant.
func (r Record) State(now time.Time) State {
	if r.Expired(now) {
		return Expired
	}
	return Active
}
