package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRun("dag", time.Second, nil)
	m.ObservePlanSize("dag", 3)
	m.NodeGenerated(errors.New("x"))
	m.RecordsPersisted(1, 2)
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRun("dag", 2*time.Second, nil)
	m.ObserveRun("dag", time.Second, errors.New("boom"))
	m.NodeGenerated(nil)
	m.NodeGenerated(nil)
	m.RecordsPersisted(3, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("dag", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("dag", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.nodesGenerated.WithLabelValues("ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.recordsPersisted.WithLabelValues("insert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordsPersisted.WithLabelValues("patch")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "gosynth_planning_calls_total")
	assert.Contains(t, names, "gosynth_records_persisted_total")
}
