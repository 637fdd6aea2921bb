package monitoring

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credit-pipeline/internal/model"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	_, m := newTestAlerts()
	c := NewChecker(m.agg, m, 10*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	_, m := newTestAlerts()
	c := NewChecker(m.agg, m, 0, 0)
	assert.Equal(t, 5*time.Minute, c.interval)
}

func TestChecker_TickRaisesWindowAlerts(t *testing.T) {
	buf, m := newTestAlerts()
	for _, r := range fill(11, 2) {
		buf.Record(r)
	}
	c := NewChecker(m.agg, m, time.Minute, 25)
	c.Tick(context.Background())

	assert.Equal(t, 1, alertTypes(m.Recent(false, 0))[model.AlertHighErrorRate])
}

func TestChecker_DailyRollupOncePerDay(t *testing.T) {
	buf, m := newTestAlerts()
	for _, r := range fill(4, 0) {
		buf.Record(r)
	}
	st := &fakeStore{}
	arch := &fakeArchiver{}
	c := NewChecker(m.agg, m, time.Minute, 2, WithRollupStore(st), WithArchiver(arch))

	now := time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Tick(context.Background())
	_, _, rollups := st.counts()
	assert.Zero(t, rollups, "before the rollup hour")

	now = now.Add(2 * time.Hour)
	c.Tick(context.Background())
	c.Tick(context.Background())
	_, _, rollups = st.counts()
	require.Equal(t, 1, rollups)
	assert.Equal(t, []string{"rollups/2024-06-01.json"}, arch.names)

	r := st.rollups[0]
	assert.Equal(t, "2024-06-01", r.Day)
	assert.NotEmpty(t, r.ID)
	var d Dashboard
	require.NoError(t, json.Unmarshal(r.Payload, &d))
	assert.Equal(t, Window24h, d.Window)
	assert.Equal(t, 4, d.Success.TotalProcessed)

	now = now.Add(24 * time.Hour)
	c.Tick(context.Background())
	_, _, rollups = st.counts()
	assert.Equal(t, 2, rollups)
}
