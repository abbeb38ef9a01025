package notification

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/application/dispatcher"
	"github.com/jinkaiteo/edms/internal/application/port"
	"github.com/jinkaiteo/edms/internal/domain/event"
	"github.com/jinkaiteo/edms/internal/domain/workflow"
)

// Notification kinds
const (
	KindActionRequired = "action_required"
	KindStatusChanged  = "status_changed"
	KindSuperseded     = "superseded"
	KindReviewOverdue  = "review_overdue"
)

// Subscriber maps lifecycle events to notifications. It only reads state.
type Subscriber struct {
	notifier port.Notifier
	store    port.DocumentStore
	logger   *zap.Logger
}

// NewSubscriber creates a Subscriber
func NewSubscriber(notifier port.Notifier, store port.DocumentStore, logger *zap.Logger) *Subscriber {
	return &Subscriber{notifier: notifier, store: store, logger: logger}
}

// Register subscribes the handlers on d
func (s *Subscriber) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeDocumentTransitioned, "notify-transitioned",
		"Tell the new assignee or the author about a state change", s.onTransitioned)
	d.SubscribeNamed(event.TypeDocumentSuperseded, "notify-superseded",
		"Tell the author that a version was superseded", s.onSuperseded)
	d.SubscribeNamed(event.TypeReviewOverdue, "notify-overdue",
		"Remind the assignee of an overdue review", s.onOverdue)
}

func (s *Subscriber) onTransitioned(ctx context.Context, evt *event.Event) error {
	label := evt.GetPayloadString(event.KeyNumber) + " " + evt.GetPayloadString(event.KeyVersion)
	to := evt.GetPayloadString(event.KeyToState)

	if assignee := evt.GetPayloadString(event.KeyAssignee); assignee != "" {
		return s.notify(ctx, port.Notification{
			Kind:       KindActionRequired,
			DocumentID: evt.DocumentID,
			Recipient:  assignee,
			Subject:    fmt.Sprintf("%s is waiting for you (%s)", label, to),
			Fields:     map[string]interface{}{"state": to, "correlation_id": evt.CorrelationID},
		})
	}

	st := workflow.State(to)
	if !st.IsEffective() && !st.IsTerminal() {
		return nil
	}
	doc, _, err := s.store.Load(ctx, evt.DocumentID)
	if err != nil {
		return s.loadError(evt, err)
	}
	return s.notify(ctx, port.Notification{
		Kind:       KindStatusChanged,
		DocumentID: evt.DocumentID,
		Recipient:  doc.AuthorID,
		Subject:    fmt.Sprintf("%s is now %s", label, to),
		Fields:     map[string]interface{}{"state": to, "actor_id": evt.GetPayloadString(event.KeyActorID)},
	})
}

func (s *Subscriber) onSuperseded(ctx context.Context, evt *event.Event) error {
	doc, _, err := s.store.Load(ctx, evt.DocumentID)
	if err != nil {
		return s.loadError(evt, err)
	}
	return s.notify(ctx, port.Notification{
		Kind:       KindSuperseded,
		DocumentID: evt.DocumentID,
		Recipient:  doc.AuthorID,
		Subject:    doc.Label() + " was superseded",
		Fields:     map[string]interface{}{"correlation_id": evt.CorrelationID},
	})
}

func (s *Subscriber) onOverdue(ctx context.Context, evt *event.Event) error {
	assignee := evt.GetPayloadString(event.KeyAssignee)
	if assignee == "" {
		return nil
	}
	return s.notify(ctx, port.Notification{
		Kind:       KindReviewOverdue,
		DocumentID: evt.DocumentID,
		Recipient:  assignee,
		Subject:    fmt.Sprintf("Document has been %s for %d hours", evt.GetPayloadString(event.KeyToState), evt.GetPayloadInt(event.KeyAge)),
		Fields:     map[string]interface{}{"state": evt.GetPayloadString(event.KeyToState)},
	})
}

func (s *Subscriber) notify(ctx context.Context, n port.Notification) error {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("Notification delivery failed",
			zap.String("kind", n.Kind),
			zap.String("document_id", n.DocumentID),
			zap.Error(err))
		return fmt.Errorf("notify %s: %w", n.Recipient, err)
	}
	return nil
}

func (s *Subscriber) loadError(evt *event.Event, err error) error {
	if errors.Is(err, port.ErrNotFound) {
		s.logger.Warn("Event refers to unknown document", zap.String("document_id", evt.DocumentID), zap.String("type", evt.Type.String()))
		return nil
	}
	return fmt.Errorf("load %s: %w", evt.DocumentID, err)
}
