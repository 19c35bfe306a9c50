package core

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a new random identifier.
func NewID() string { return uuid.NewString() }

// Now returns the current UTC time. Tests replace it for deterministic
// timestamps.
var Now = func() time.Time { return time.Now().UTC() }

// Timestamp returns Now formatted as RFC 3339 with nanoseconds.
func Timestamp() string { return Now().Format(time.RFC3339Nano) }
