package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulingMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)

	m.ObserveBooking("ok")
	m.ObserveBooking("conflict")
	m.ObserveBooking("conflict")
	m.ObserveTransition("booked", "completed")
	m.ObserveTreatment("ok")
	m.ObserveLockWait(0.002)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitionsTotal.WithLabelValues("booked", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.treatmentsTotal.WithLabelValues("ok")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 4)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *SchedulingMetrics
	m.ObserveBooking("ok")
	m.ObserveTransition("booked", "cancelled")
	m.ObserveTreatment("forbidden")
	m.ObserveLockWait(1)
}
