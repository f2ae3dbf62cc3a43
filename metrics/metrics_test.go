package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	assert.NotNil(t, EventsIngested)
	assert.NotNil(t, AlertsCreated)
	assert.NotNil(t, IngestDuration)
	assert.NotNil(t, ActionsRejected)
	assert.NotNil(t, SinkDeliveries)
	assert.NotNil(t, SQLitePoolOpenConnections)
}

func TestCounterIncrements(t *testing.T) {
	before := testutil.ToFloat64(ActionsRejected.WithLabelValues("kill_process"))
	ActionsRejected.WithLabelValues("kill_process").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ActionsRejected.WithLabelValues("kill_process")))
}
