package apihealth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/linkcore/pkg/types"
)

type fakeCore struct {
	report types.HealthReport
	err    error
}

func (f fakeCore) Health() (types.HealthReport, error) { return f.report, f.err }

func TestHealthEndpointAlwaysReportsHealthy(t *testing.T) {
	s := New(fakeCore{report: types.HealthReport{Healthy: false}})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyEndpointReflectsCoreHealth(t *testing.T) {
	s := New(fakeCore{report: types.HealthReport{
		Healthy: true,
		Links:   []types.Stats{{Link: "plc-1", State: types.StateActive}},
	}})
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyEndpointReturns503WhenNotHealthy(t *testing.T) {
	s := New(fakeCore{report: types.HealthReport{
		Healthy: false,
		Links:   []types.Stats{{Link: "plc-1", State: types.StateConnecting}},
	}})
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyEndpointReturns503OnHealthError(t *testing.T) {
	s := New(fakeCore{err: errors.New("dispatcher busy")})
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
