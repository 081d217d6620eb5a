//go:build !integration && !e2e
// +build !integration,!e2e

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest("gpt-4", "alpha", 200, 500*time.Millisecond, 42, 17, 0)
	m.ObserveRequest("gpt-4", "alpha", 200, 200*time.Millisecond, 10, 0, 2)

	assert.Equal(t, float64(2),
		testutil.ToFloat64(m.requestsTotal.WithLabelValues("gpt-4", "alpha", "200")))
	assert.Equal(t, float64(52),
		testutil.ToFloat64(m.tokensTotal.WithLabelValues("gpt-4", "alpha", "input")))
	assert.Equal(t, float64(17),
		testutil.ToFloat64(m.tokensTotal.WithLabelValues("gpt-4", "alpha", "output")))
	assert.Equal(t, float64(2),
		testutil.ToFloat64(m.retriesTotal.WithLabelValues("gpt-4")))
}

func TestObserveRequest_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("gpt-4", "alpha", 200, time.Second, 1, 1, 1)
	})
}
