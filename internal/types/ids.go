package types

import (
	"time"

	"github.com/google/uuid"
)

// NewRecordID generates a UUIDv7 record identifier.
// Time-ordered IDs ensure sequential inserts cluster in B-tree pages.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewRecordID() RecordID {
	return RecordID(uuid.Must(uuid.NewV7()).String())
}

// NewSessionID generates a UUIDv7 session identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewSessionID() SessionID {
	return SessionID(uuid.Must(uuid.NewV7()).String())
}

// NewAnonymousID generates a random device identifier used as distinct-id
// until the application identifies the user.
func NewAnonymousID() string {
	return "$device:" + uuid.NewString()
}

// ParseRecordID validates and converts a string to RecordID.
// Rejects malformed UUIDs to prevent invalid IDs from entering the system.
func ParseRecordID(s string) (RecordID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return RecordID(s), nil
}

// RecordIDTime extracts the timestamp embedded in a UUIDv7 record ID.
// Enables time-based pruning without a database lookup.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func RecordIDTime(id RecordID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
