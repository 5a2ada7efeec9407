package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveSearchOutcomes(t *testing.T) {
	ObserveSearch("metrics-test", 5, false, 0.2)
	ObserveSearch("metrics-test", 0, false, 0.1)
	ObserveSearch("metrics-test", 0, true, 3)
	ObserveSearch("metrics-test", 2, true, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(SourceSearches.WithLabelValues("metrics-test", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(SourceSearches.WithLabelValues("metrics-test", OutcomeEmpty)))
	assert.Equal(t, 2.0, testutil.ToFloat64(SourceSearches.WithLabelValues("metrics-test", OutcomeError)))
}
