package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersRecord(t *testing.T) {
	m := New()

	m.ConnectionAttempt()
	m.ConnectionAttempt()
	m.ConnectionFailure()
	m.Drained("network")
	m.Envelope("NOOP")
	m.Job("refresh_prekeys", "ok")
	m.RetryReceipt("RESENDABLE", "sent")
	m.SetPending(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectionAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DrainedTransitions.WithLabelValues("network")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Envelopes.WithLabelValues("NOOP")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Jobs.WithLabelValues("refresh_prekeys", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PendingRetries))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ConnectionAttempt()
	m.ConnectionFailure()
	m.Drained("decryption")
	m.Envelope("x")
	m.Job("k", "ok")
	m.RetryReceipt("DEFAULT", "sent")
	m.SetPending(1)
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.Serve(context.Background(), ":0"))
}
