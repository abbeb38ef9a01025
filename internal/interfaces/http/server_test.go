package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinkaiteo/edms/internal/application/monitor"
	"github.com/jinkaiteo/edms/internal/application/port"
	"github.com/jinkaiteo/edms/internal/application/scheduler"
	"github.com/jinkaiteo/edms/internal/domain/workflow"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type fakeSweeper struct {
	asOf time.Time
	err  error
}

func (f *fakeSweeper) RunLocked(_ context.Context, _ port.SweepLock, asOf time.Time) (*scheduler.SweepReport, error) {
	f.asOf = asOf
	if f.err != nil {
		return nil, f.err
	}
	return &scheduler.SweepReport{AsOf: asOf, Examined: 2, Transitioned: 2}, nil
}

type fakeScanner struct{}

func (fakeScanner) Scan(context.Context, time.Time) ([]monitor.Alert, error) {
	return []monitor.Alert{{DocumentID: "d1", Label: "DOC-2025-0001 v0.1", State: workflow.StatePendingReview}}, nil
}

type fakeChecker struct{ ready bool }

func (p fakeChecker) Ready() bool { return p.ready }
func (p fakeChecker) Healthy() (bool, map[string]string) {
	if !p.ready {
		return false, map[string]string{"database": "unhealthy"}
	}
	return true, map[string]string{"database": "ok"}
}

// 2025-02-28 20:00 UTC is already 1 March in Shanghai
var clock = port.ClockFunc(func() time.Time { return time.Date(2025, 2, 28, 20, 0, 0, 0, time.UTC) })

func newTestServer(t *testing.T, sweeper Sweeper, ready bool) *Server {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	return NewServer(DefaultServerConfig(), Deps{
		Sweeper:  sweeper,
		Scanner:  fakeScanner{},
		Health:   fakeChecker{ready: ready},
		Clock:    clock,
		Location: loc,
	}, nopLogger{})
}

func do(t *testing.T, s *Server, method, target string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealthAndReady(t *testing.T) {
	tests := []struct {
		name   string
		ready  bool
		path   string
		status int
	}{
		{"healthy", true, "/health", http.StatusOK},
		{"unhealthy", false, "/health", http.StatusServiceUnavailable},
		{"ready", true, "/ready", http.StatusOK},
		{"not ready", false, "/ready", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, newTestServer(t, &fakeSweeper{}, tt.ready), http.MethodGet, tt.path)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.ready, body.Success)
		})
	}
}

func TestTriggerSweep(t *testing.T) {
	t.Run("defaults to today in the configured zone", func(t *testing.T) {
		sweeper := &fakeSweeper{}
		rec, body := do(t, newTestServer(t, sweeper, true), http.MethodPost, "/internal/sweep")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, body.Success)
		assert.Equal(t, "2025-03-01", sweeper.asOf.Format("2006-01-02"))
	})

	t.Run("explicit as_of", func(t *testing.T) {
		sweeper := &fakeSweeper{}
		rec, _ := do(t, newTestServer(t, sweeper, true), http.MethodPost, "/internal/sweep?as_of=2025-06-30")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2025-06-30", sweeper.asOf.Format("2006-01-02"))
	})

	t.Run("bad as_of", func(t *testing.T) {
		rec, body := do(t, newTestServer(t, &fakeSweeper{}, true), http.MethodPost, "/internal/sweep?as_of=30/06/2025")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NotEmpty(t, body.Error)
	})

	t.Run("lock held elsewhere", func(t *testing.T) {
		rec, _ := do(t, newTestServer(t, &fakeSweeper{err: scheduler.ErrSweepInProgress}, true), http.MethodPost, "/internal/sweep")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("failure", func(t *testing.T) {
		rec, body := do(t, newTestServer(t, &fakeSweeper{err: errors.New("disk full")}, true), http.MethodPost, "/internal/sweep")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "sweep failed", body.Error)
	})
}

func TestListStale(t *testing.T) {
	rec, body := do(t, newTestServer(t, &fakeSweeper{}, true), http.MethodGet, "/internal/stale")
	require.Equal(t, http.StatusOK, rec.Code)
	alerts, ok := body.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, alerts, 1)
	assert.Equal(t, "PENDING_REVIEW", alerts[0].(map[string]interface{})["state"])
}
