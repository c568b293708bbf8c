package types

import (
	"context"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Notifier is the external notification capability the core forwards
// qualifying alerts to. Permission and delivery mechanics are the
// implementation's responsibility; the core only supplies title and message.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}
