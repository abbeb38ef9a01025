package port

import (
	"context"
	"time"
)

// Notification is a message handed to the external notification collaborator
type Notification struct {
	Kind       string
	DocumentID string
	Recipient  string
	Subject    string
	Fields     map[string]interface{}
}

// Notifier delivers notifications. Delivery channels live outside this service.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall clock
var SystemClock Clock = ClockFunc(time.Now)

// SweepLock serialises sweeps across processes on one host
type SweepLock interface {
	TryLock() (bool, error)
	Unlock() error
}
