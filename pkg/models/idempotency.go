package models

import "time"

// IdempotencyRecord (spec §3, §4.2).
type IdempotencyRecord struct {
	Key             string
	TenantID        TenantID
	Fingerprint     string
	ResponseStatus  int
	ResponseBody    []byte
	CreatedAt       time.Time
	TTL             time.Duration
}

// Expired reports whether this record may be reclaimed as of now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return now.After(r.CreatedAt.Add(r.TTL))
}
