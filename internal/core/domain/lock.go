package domain

import (
	"encoding/json"
	"time"
)

// LockRecord is a claim written to a lock slot.
//
// A tab holds the lock for Key while the slot's latest record equals the
// exact record it wrote. ExpiresAt is 0 in the no-expiry variant.
type LockRecord struct {
	// Key is the resource being protected.
	Key string `json:"key"`

	// Holder is the random id the claiming tab generated for this attempt.
	Holder int64 `json:"holder"`

	// ExpiresAt is when the claim lapses (Unix milliseconds), 0 for never.
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

// Live reports whether the record still holds the key at now.
func (r *LockRecord) Live(now time.Time) bool {
	if r == nil {
		return false
	}
	return r.ExpiresAt == 0 || now.UnixMilli() < r.ExpiresAt
}

// Same reports whether two records are the identical claim.
func (r *LockRecord) Same(o *LockRecord) bool {
	if r == nil || o == nil {
		return false
	}
	return *r == *o
}

// Marshal encodes the record for the store.
func (r *LockRecord) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalLockRecord decodes a stored record. Missing or malformed data
// yields nil, meaning the slot is free.
func UnmarshalLockRecord(data []byte) *LockRecord {
	if len(data) == 0 {
		return nil
	}
	var r LockRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil
	}
	if r.Key == "" || r.Holder == 0 {
		return nil
	}
	return &r
}
