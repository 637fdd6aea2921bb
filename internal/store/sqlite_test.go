package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credit-pipeline/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Ping(context.Background()))
}

func TestSQLite_Metrics_InsertAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	old := sampleRecord("old", now.Add(-48*time.Hour))
	recent := sampleRecord("recent", now)
	recent.ErrorType = model.ErrorService
	recent.PIIDetected = true
	require.NoError(t, st.InsertMetrics(ctx, []model.ProcessingMetricsRecord{old, recent}))

	got, err := st.ListMetrics(ctx, now.Add(-time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, recent, got[0])

	all, err := st.ListMetrics(ctx, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "recent", all[0].ProcessingID)
}

func TestSQLite_Alerts_InsertIgnoresDuplicates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	a := model.Alert{
		ID:        "a1",
		Type:      model.AlertLowConfidence,
		Severity:  model.SeverityMedium,
		Message:   "first",
		Data:      map[string]any{"samples": float64(12)},
		Timestamp: now,
	}
	require.NoError(t, st.InsertAlerts(ctx, []model.Alert{a}))
	dup := a
	dup.Message = "second"
	require.NoError(t, st.InsertAlerts(ctx, []model.Alert{dup}))

	got, err := st.ListAlerts(ctx, AlertFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a, got[0])
}

func TestSQLite_Alerts_FilterAndAcknowledge(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, st.InsertAlerts(ctx, []model.Alert{
		{ID: "a1", Type: model.AlertHighErrorRate, Severity: model.SeverityHigh, Message: "m1", Timestamp: now.Add(-time.Minute)},
		{ID: "a2", Type: model.AlertLowConfidence, Severity: model.SeverityMedium, Message: "m2", Timestamp: now},
	}))

	byType, err := st.ListAlerts(ctx, AlertFilter{Type: model.AlertHighErrorRate})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "a1", byType[0].ID)

	n, err := st.AcknowledgeAlerts(ctx, []string{"a1", "missing"}, "ops", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = st.AcknowledgeAlerts(ctx, []string{"a1"}, "someone-else", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	open, err := st.ListAlerts(ctx, AlertFilter{UnacknowledgedOnly: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "a2", open[0].ID)

	all, err := st.ListAlerts(ctx, AlertFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a2", all[0].ID)

	all, err = st.ListAlerts(ctx, AlertFilter{})
	require.NoError(t, err)
	acked := all[1]
	assert.True(t, acked.Acknowledged)
	assert.Equal(t, "ops", acked.AcknowledgedBy)
	require.NotNil(t, acked.AcknowledgedAt)
	assert.Equal(t, now, *acked.AcknowledgedAt)
	assert.Equal(t, "m1", acked.Message)
}

func TestSQLite_Rollups(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, err := st.GetRollup(ctx, "2024-06-01")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, st.SaveRollup(ctx, model.Rollup{ID: "r1", Day: "2024-06-01", Payload: []byte(`{"a":1}`), CreatedAt: now}))
	require.NoError(t, st.SaveRollup(ctx, model.Rollup{ID: "r2", Day: "2024-06-01", Payload: []byte(`{"a":2}`), CreatedAt: now}))

	r, err := st.GetRollup(ctx, "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, "r2", r.ID)
	assert.JSONEq(t, `{"a":2}`, string(r.Payload))
	assert.Equal(t, now, r.CreatedAt)
}
