package types

import (
	"context"
	"time"
)

// Clock abstracts time for testability. clockwork.Clock satisfies it.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// StateStore persists RunState between invocations.
// Load returns the zero RunState when nothing has been saved yet or the stored
// record cannot be decoded. Save overwrites the previous record.
type StateStore interface {
	Load(ctx context.Context) (RunState, error)
	Save(ctx context.Context, state RunState) error
}

// FeedSink receives the fully rendered RSS document and replaces whatever it
// held before.
type FeedSink interface {
	Name() string
	Publish(ctx context.Context, doc []byte) error
}
