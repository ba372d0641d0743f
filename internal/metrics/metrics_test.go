package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfe-engine/internal/metrics"
)

func TestMetrics_Counters(t *testing.T) {
	m := metrics.New()

	m.ObserveAttempt("NFeAutorizacao4", "SP", metrics.OutcomeRetry, 503, 10*time.Millisecond)
	m.ObserveAttempt("NFeAutorizacao4", "SP", metrics.OutcomeSuccess, 200, 10*time.Millisecond)
	m.ObserveOutcome("emit", "AUTHORIZED", 100)
	m.ObserveTransition("DRAFT", "CALCULATED")
	m.AddCalculatedItems(3)
	m.ObserveAllocation("memory", nil)
	m.ObserveAllocation("memory", errors.New("boom"))

	count, err := testutil.GatherAndCount(m.Registry(),
		"nfe_transport_attempts_total",
		"nfe_emission_outcomes_total",
		"nfe_emission_transitions_total",
		"nfe_tax_items_calculated_total",
		"nfe_sequence_allocations_total",
	)
	require.NoError(t, err)
	// 2 attempt series + 1 outcome + 1 transition + 1 items + 2 allocation series
	assert.Equal(t, 7, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveAttempt("s", "SP", metrics.OutcomeFailure, 0, time.Second)
		m.ObserveOutcome("emit", "REJECTED", 778)
		m.ObserveTransition("A", "B")
		m.AddCalculatedItems(1)
		m.ObserveAllocation("redis", nil)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := metrics.New()
	m.AddCalculatedItems(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "nfe_tax_items_calculated_total 2"))
}
