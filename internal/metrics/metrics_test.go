package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_New(t *testing.T) {
	m := New()
	assert.NotNil(t, m.RemoteRequestsTotal)
	assert.NotNil(t, m.RemoteDuration)
	assert.NotNil(t, m.RemoteRetriesTotal)
	assert.NotNil(t, m.CacheLookupsTotal)
	assert.NotNil(t, m.DecisionsTotal)
	assert.NotNil(t, m.Registry())
}

func TestMetrics_RecordRemote(t *testing.T) {
	m := New()
	m.RecordRemote("list_tasks", "200", 0.1)
	m.RecordRemote("list_tasks", "200", 0.2)
	m.RecordRemote("close_task", "429", 0.05)

	lines, err := m.Summary()
	require.NoError(t, err)
	assert.Contains(t, lines, `tod_remote_requests_total{op="list_tasks",status="200"} 2`)
	assert.Contains(t, lines, `tod_remote_requests_total{op="close_task",status="429"} 1`)
}

func TestMetrics_RecordCacheAndDecision(t *testing.T) {
	m := New()
	m.RecordCache("projects", "miss")
	m.RecordCache("projects", "hit")
	m.RecordCache("projects", "hit")
	m.RecordDecision("schedule", "complete", "applied")

	lines, err := m.Summary()
	require.NoError(t, err)
	assert.Contains(t, lines, `tod_cache_lookups_total{kind="projects",result="hit"} 2`)
	assert.Contains(t, lines, `tod_triage_decisions_total{decision="complete",mode="schedule",result="applied"} 1`)
}

func TestMetrics_Summary(t *testing.T) {
	m := New()
	m.RecordRetry("update_task", "rate_limited")
	m.RecordCache("labels", "miss")

	lines, err := m.Summary()
	require.NoError(t, err)
	assert.Contains(t, lines, `tod_cache_lookups_total{kind="labels",result="miss"} 1`)
	assert.Contains(t, lines, `tod_remote_retries_total{op="update_task",reason="rate_limited"} 1`)
}

func TestMetrics_ObserveCacheHitRate(t *testing.T) {
	m := New()
	m.ObserveCacheHitRate(func() float64 { return 0.75 })
	m.ObserveCacheHitRate(func() float64 { return 0 })

	lines, err := m.Summary()
	require.NoError(t, err)
	assert.Contains(t, lines, `tod_cache_hit_ratio{} 0.75`)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordRemote("op", "200", 1)
	m.RecordRetry("op", "timeout")
	m.RecordCache("projects", "hit")
	m.RecordDecision("process", "skip", "deferred")
	m.ObserveCacheHitRate(func() float64 { return 1 })
	lines, err := m.Summary()
	assert.NoError(t, err)
	assert.Nil(t, lines)
}
