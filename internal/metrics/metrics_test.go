package metrics

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObserveTokenRefresh(t *testing.T) {
	before := testutil.ToFloat64(tokenRefreshes.WithLabelValues(ResultFailure))
	ObserveTokenRefresh(errors.New("invalid_grant"))
	after := testutil.ToFloat64(tokenRefreshes.WithLabelValues(ResultFailure))
	assert.Equal(t, before+1, after)
}

func TestObserveMint(t *testing.T) {
	before := testutil.ToFloat64(subAccountMints.WithLabelValues(ResultSuccess))
	ObserveMint(nil)
	ObserveMint(nil)
	after := testutil.ToFloat64(subAccountMints.WithLabelValues(ResultSuccess))
	assert.Equal(t, before+2, after)
}

func TestObserveHTTP(t *testing.T) {
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/health", "OK"))
	ObserveHTTP("GET", "/health", http.StatusOK, 10*time.Millisecond)
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/health", "OK"))
	assert.Equal(t, before+1, after)
}
