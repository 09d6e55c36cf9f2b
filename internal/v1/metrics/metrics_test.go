package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	t.Run("FramesTotal", func(t *testing.T) {
		before := testutil.ToFloat64(FramesTotal.WithLabelValues("line"))
		FramesTotal.WithLabelValues("line").Inc()
		after := testutil.ToFloat64(FramesTotal.WithLabelValues("line"))
		assert.Equal(t, before+1, after)
	})

	t.Run("BroadcastWriteFailures", func(t *testing.T) {
		before := testutil.ToFloat64(BroadcastWriteFailures)
		BroadcastWriteFailures.Inc()
		after := testutil.ToFloat64(BroadcastWriteFailures)
		assert.Equal(t, before+1, after)
	})

	t.Run("RelayMessages", func(t *testing.T) {
		RelayMessages.WithLabelValues("out").Inc()
		val := testutil.ToFloat64(RelayMessages.WithLabelValues("out"))
		assert.GreaterOrEqual(t, val, float64(1))
	})
}

func TestGauges(t *testing.T) {
	t.Run("Connections", func(t *testing.T) {
		before := testutil.ToFloat64(ActiveConnections)
		IncConnection()
		assert.Equal(t, before+1, testutil.ToFloat64(ActiveConnections))
		DecConnection()
		assert.Equal(t, before, testutil.ToFloat64(ActiveConnections))
	})

	t.Run("RoomMembers", func(t *testing.T) {
		RoomMembers.WithLabelValues("test-room").Set(3)
		assert.Equal(t, float64(3), testutil.ToFloat64(RoomMembers.WithLabelValues("test-room")))
		RoomMembers.DeleteLabelValues("test-room")
	})

	t.Run("CircuitBreakerState", func(t *testing.T) {
		CircuitBreakerState.WithLabelValues("redis").Set(1)
		assert.Equal(t, float64(1), testutil.ToFloat64(CircuitBreakerState.WithLabelValues("redis")))
		CircuitBreakerState.WithLabelValues("redis").Set(0)
	})
}

func TestHistogramObserve(t *testing.T) {
	// Verifying bucket contents is overkill here; observing without panic
	// confirms registration.
	BroadcastDuration.Observe(0.002)
}
