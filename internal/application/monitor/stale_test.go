package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/domain/entity"
	"github.com/jinkaiteo/edms/internal/domain/event"
	"github.com/jinkaiteo/edms/internal/domain/workflow"
	"github.com/jinkaiteo/edms/internal/infrastructure/persistence/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (p *recordingPublisher) DispatchAsync(_ context.Context, evt *event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *memory.Store, id string, st workflow.State, entered time.Time) {
	t.Helper()
	doc := &entity.Document{
		ID:           id,
		Number:       "DOC-2025-" + id,
		MinorVersion: 1,
		Status:       string(st),
		AuthorID:     "alice",
		CreatedAt:    entered,
		UpdatedAt:    entered,
	}
	wf := &entity.Workflow{
		ID:              "wf-" + id,
		DocumentID:      id,
		CurrentState:    string(st),
		VersionStamp:    1,
		CurrentAssignee: "rita",
		StateEnteredAt:  entered,
		UpdatedAt:       entered,
	}
	require.NoError(t, store.Create(context.Background(), doc, wf))
}

func TestMonitor_Scan(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "0001", workflow.StatePendingReview, now.Add(-96*time.Hour))
	seed(t, store, "0002", workflow.StatePendingReview, now.Add(-2*time.Hour))
	seed(t, store, "0003", workflow.StatePendingApproval, now.Add(-6*24*time.Hour))
	seed(t, store, "0004", workflow.StateDraft, now.AddDate(0, -6, 0))

	pub := &recordingPublisher{}
	m, err := New(store, pub, nil, zap.NewNop())
	require.NoError(t, err)

	alerts, err := m.Scan(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	ids := []string{alerts[0].DocumentID, alerts[1].DocumentID}
	assert.ElementsMatch(t, []string{"0001", "0003"}, ids)

	for _, a := range alerts {
		assert.Greater(t, a.Age, a.Threshold)
		assert.Equal(t, "rita", a.Assignee)
	}

	require.Len(t, pub.events, 2)
	for _, evt := range pub.events {
		assert.Equal(t, event.TypeReviewOverdue, evt.Type)
		assert.NotEmpty(t, evt.GetPayloadString(event.KeyToState))
	}
}

func TestMonitor_ScanIsReadOnly(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "0001", workflow.StateUnderReview, now.AddDate(0, 0, -30))

	m, err := New(store, nil, map[workflow.State]time.Duration{workflow.StateUnderReview: time.Hour}, nil)
	require.NoError(t, err)

	_, err = m.Scan(context.Background(), now)
	require.NoError(t, err)

	_, wf, err := store.Load(context.Background(), "0001")
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StateUnderReview), wf.CurrentState)
	assert.Equal(t, int64(1), wf.VersionStamp)
}

func TestNew_RejectsBadThresholds(t *testing.T) {
	tests := []struct {
		name       string
		thresholds map[workflow.State]time.Duration
	}{
		{"terminal state", map[workflow.State]time.Duration{workflow.StateObsolete: time.Hour}},
		{"effective state", map[workflow.State]time.Duration{workflow.StateApprovedAndEffective: time.Hour}},
		{"non-positive", map[workflow.State]time.Duration{workflow.StatePendingReview: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(memory.NewStore(), nil, tt.thresholds, nil)
			assert.Error(t, err)
		})
	}
}
