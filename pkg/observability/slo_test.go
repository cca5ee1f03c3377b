package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSLO_EmptyWindowIsCompliant(t *testing.T) {
	t.Parallel()
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-create",
		Operation:   "create",
		LatencyP99:  250 * time.Millisecond,
		SuccessRate: 0.999,
		WindowHours: 24,
	})

	status, err := tracker.Status("create")
	require.NoError(t, err)
	assert.True(t, status.InCompliance)
	assert.Equal(t, 100.0, status.ErrorBudgetLeft)
}

func TestSLO_InCompliance(t *testing.T) {
	t.Parallel()
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-get",
		Operation:   "get",
		LatencyP99:  100 * time.Millisecond,
		SuccessRate: 0.99,
		WindowHours: 1,
	})

	for i := 0; i < 100; i++ {
		tracker.Record(SLOObservation{Operation: "get", Latency: 10 * time.Millisecond, Success: true})
	}

	status, err := tracker.Status("get")
	require.NoError(t, err)
	assert.True(t, status.InCompliance)
	assert.Equal(t, 1.0, status.CurrentSuccess)
	assert.Equal(t, 100, status.ObservationCount)
}

func TestSLO_SuccessRateBreach(t *testing.T) {
	t.Parallel()
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-update",
		Operation:   "update",
		LatencyP99:  500 * time.Millisecond,
		SuccessRate: 0.99,
		WindowHours: 1,
	})

	for i := 0; i < 90; i++ {
		tracker.Record(SLOObservation{Operation: "update", Latency: 10 * time.Millisecond, Success: true})
	}
	for i := 0; i < 10; i++ {
		tracker.Record(SLOObservation{Operation: "update", Latency: 10 * time.Millisecond, Success: false})
	}

	status, err := tracker.Status("update")
	require.NoError(t, err)
	assert.False(t, status.InCompliance)
	// 10% errors against a 1% budget burns at 10x.
	assert.InDelta(t, 10.0, status.BurnRate, 0.01)
	assert.Equal(t, 0.0, status.ErrorBudgetLeft)
}

func TestSLO_LatencyBreach(t *testing.T) {
	t.Parallel()
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-patch",
		Operation:   "patch",
		LatencyP99:  50 * time.Millisecond,
		SuccessRate: 0.9,
		WindowHours: 1,
	})

	for i := 0; i < 10; i++ {
		tracker.Record(SLOObservation{Operation: "patch", Latency: 200 * time.Millisecond, Success: true})
	}

	status, err := tracker.Status("patch")
	require.NoError(t, err)
	assert.False(t, status.InCompliance)
	assert.Equal(t, 200.0, status.CurrentP99)
}

func TestSLO_WindowExcludesOldObservations(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tracker := NewSLOTracker().WithClock(func() time.Time { return now })
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-delete",
		Operation:   "delete",
		LatencyP99:  100 * time.Millisecond,
		SuccessRate: 0.99,
		WindowHours: 1,
	})

	tracker.Record(SLOObservation{
		Operation: "delete", Latency: time.Millisecond, Success: false,
		Timestamp: now.Add(-2 * time.Hour),
	})
	tracker.Record(SLOObservation{
		Operation: "delete", Latency: time.Millisecond, Success: true,
		Timestamp: now.Add(-time.Minute),
	})

	status, err := tracker.Status("delete")
	require.NoError(t, err)
	assert.Equal(t, 1, status.ObservationCount)
	assert.True(t, status.InCompliance)
}

func TestSLO_NoTarget(t *testing.T) {
	t.Parallel()
	_, err := NewSLOTracker().Status("bulk")
	assert.Error(t, err)
}

func TestSLO_Defaults(t *testing.T) {
	t.Parallel()
	tracker := DefaultSLOTracker()
	ops := tracker.Operations()
	assert.Contains(t, ops, "create")
	assert.Contains(t, ops, "search")

	status, err := tracker.Status("get")
	require.NoError(t, err)
	assert.True(t, status.InCompliance)
}
