package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestRecording(t *testing.T) {
	m := New()
	m.ObserveRun(true, time.Unix(1700000000, 0), 20*time.Millisecond)
	m.ObserveRun(false, time.Unix(1700000060, 0), time.Second)
	m.AddFailureEvents(7)
	m.RecordTransition("unknown", "blocked")
	m.RecordTransition("unknown", "blocked")
	m.RecordEnforcementFailure("block")
	m.SetStateSize(3, 4)

	body := scrape(t, m)
	for _, want := range []string{
		`authlog_blocker_runs_total{result="ok"} 1`,
		`authlog_blocker_runs_total{result="failed"} 1`,
		`authlog_blocker_failure_events_total 7`,
		`authlog_blocker_transitions_total{from="unknown",to="blocked"} 2`,
		`authlog_blocker_enforcement_failures_total{action="block"} 1`,
		`authlog_blocker_blocked_addresses 3`,
		`authlog_blocker_unblocked_addresses 4`,
		`authlog_blocker_last_run_timestamp_seconds 1.70000006e+09`,
		`authlog_blocker_run_duration_seconds_count 2`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun(true, time.Now(), time.Second)
		m.AddFailureEvents(1)
		m.RecordTransition("a", "b")
		m.RecordEnforcementFailure("unblock")
		m.SetStateSize(1, 1)
		assert.Nil(t, m.Registry())
		assert.NoError(t, m.StopServer())
	})
}

func TestRegistryGathers(t *testing.T) {
	m := New()
	m.SetStateSize(2, 0)
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "authlog_blocker_blocked_addresses")
}
