// Package notification turns lifecycle events into notifications for the
// external delivery collaborator. LogNotifier stands in for that
// collaborator by writing structured log lines.
package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/application/port"
)

// LogNotifier implements port.Notifier by logging each notification
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

// Notify logs n
func (n *LogNotifier) Notify(_ context.Context, msg port.Notification) error {
	fields := []zap.Field{
		zap.String("kind", msg.Kind),
		zap.String("document_id", msg.DocumentID),
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
	}
	for k, v := range msg.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	n.logger.Info("Notification", fields...)
	return nil
}

var _ port.Notifier = (*LogNotifier)(nil)
