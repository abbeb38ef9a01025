package dispatcher

import (
	"context"

	"github.com/jinkaiteo/edms/internal/domain/event"
)

// Handler processes domain events
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name        string
	EventType   event.Type
	Handler     Handler
	Description string
}

// Publisher is the narrow side of the dispatcher used by producers of events
type Publisher interface {
	DispatchAsync(ctx context.Context, evt *event.Event)
}
