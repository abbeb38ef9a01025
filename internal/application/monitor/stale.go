// Package monitor raises alerts for documents that sit too long in a
// review or approval state. It never changes lifecycle state.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/application/dispatcher"
	"github.com/jinkaiteo/edms/internal/application/port"
	"github.com/jinkaiteo/edms/internal/domain/event"
	"github.com/jinkaiteo/edms/internal/domain/workflow"
)

// DefaultThresholds are used when no per-state threshold is configured
func DefaultThresholds() map[workflow.State]time.Duration {
	return map[workflow.State]time.Duration{
		workflow.StatePendingReview:   72 * time.Hour,
		workflow.StateUnderReview:     7 * 24 * time.Hour,
		workflow.StatePendingApproval: 5 * 24 * time.Hour,
	}
}

// Alert describes one overdue document
type Alert struct {
	DocumentID string         `json:"document_id"`
	Label      string         `json:"document"`
	State      workflow.State `json:"state"`
	Assignee   string         `json:"assignee,omitempty"`
	EnteredAt  time.Time      `json:"entered_at"`
	Age        time.Duration  `json:"age"`
	Threshold  time.Duration  `json:"threshold"`
}

// Monitor scans for stale workflows
type Monitor struct {
	store      port.DocumentStore
	publisher  dispatcher.Publisher
	thresholds map[workflow.State]time.Duration
	logger     *zap.Logger
}

// New creates a monitor. An empty thresholds map falls back to DefaultThresholds.
func New(store port.DocumentStore, publisher dispatcher.Publisher, thresholds map[workflow.State]time.Duration, logger *zap.Logger) (*Monitor, error) {
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds()
	}
	for st, d := range thresholds {
		if !st.IsInFlight() {
			return nil, fmt.Errorf("stale threshold for %s: state is not in flight", st)
		}
		if d <= 0 {
			return nil, fmt.Errorf("stale threshold for %s must be positive", st)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{store: store, publisher: publisher, thresholds: thresholds, logger: logger}, nil
}

// Scan returns every document older than its state's threshold at now and
// publishes a review_overdue event for each.
func (m *Monitor) Scan(ctx context.Context, now time.Time) ([]Alert, error) {
	states := make([]workflow.State, 0, len(m.thresholds))
	for st := range m.thresholds {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })

	var alerts []Alert
	for _, st := range states {
		threshold := m.thresholds[st]
		snapshots, err := m.store.ListEnteredBefore(ctx, string(st), now.Add(-threshold))
		if err != nil {
			return nil, fmt.Errorf("list stale %s: %w", st, err)
		}
		for _, snap := range snapshots {
			alerts = append(alerts, Alert{
				DocumentID: snap.Document.ID,
				Label:      snap.Document.Label(),
				State:      st,
				Assignee:   snap.Workflow.CurrentAssignee,
				EnteredAt:  snap.Workflow.StateEnteredAt,
				Age:        now.Sub(snap.Workflow.StateEnteredAt),
				Threshold:  threshold,
			})
		}
	}

	for _, a := range alerts {
		m.logger.Warn("Document review overdue",
			zap.String("document_id", a.DocumentID),
			zap.String("document", a.Label),
			zap.String("state", string(a.State)),
			zap.String("assignee", a.Assignee),
			zap.Duration("age", a.Age))

		if m.publisher != nil {
			m.publisher.DispatchAsync(ctx, event.NewEvent(event.TypeReviewOverdue, a.DocumentID, map[string]interface{}{
				event.KeyToState:  string(a.State),
				event.KeyAssignee: a.Assignee,
				event.KeyAge:      int(a.Age.Hours()),
			}))
		}
	}
	return alerts, nil
}
