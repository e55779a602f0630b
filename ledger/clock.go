package ledger

import "time"

// Clock supplies the ledger's notion of now so expiry rules can be
// exercised deterministically in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the system clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
