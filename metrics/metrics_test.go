package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permbridge/permission"
	"permbridge/platform"
	"permbridge/platform/memory"
)

func TestMetrics_RecordsOrchestratorActivity(t *testing.T) {
	r := require.New(t)

	// given
	registry := prometheus.NewRegistry()
	m, err := New(Options{Registerer: registry})
	r.NoError(err)

	device := memory.NewDevice(memory.Config{})
	o := permission.NewOrchestrator(permission.OrchestratorConfig{Requester: device, Recorder: m, Timeout: time.Second})
	device.AddResultListener(o)
	defer o.Close()

	// when - one pending request, one conflict, one stale callback, then completion
	future, err := o.Request(context.Background(), []permission.Name{"CAMERA"})
	r.NoError(err)
	r.Equal(1.0, testutil.ToFloat64(m.Pending))

	_, err = o.Request(context.Background(), []permission.Name{"RECORD_AUDIO"})
	r.ErrorIs(err, permission.ErrRequestInProgress)
	o.OnRequestPermissionsResult(1234, nil, nil)

	r.NoError(device.Complete([]bool{true}))
	_, err = future.Wait(context.Background())
	r.NoError(err)

	// then
	r.Equal(1.0, testutil.ToFloat64(m.Conflicts))
	r.Equal(1.0, testutil.ToFloat64(m.StaleCallbacks))
	r.Equal(1.0, testutil.ToFloat64(m.Requests.WithLabelValues("completed")))
	r.Equal(0.0, testutil.ToFloat64(m.Pending))
}

func TestMetrics_TimeoutsAndCancellations(t *testing.T) {
	r := require.New(t)

	// given
	registry := prometheus.NewRegistry()
	m, err := New(Options{Registerer: registry})
	r.NoError(err)

	silent := memory.NewDevice(memory.Config{})
	o := permission.NewOrchestrator(permission.OrchestratorConfig{Requester: silent, Recorder: m, Timeout: 20 * time.Millisecond})
	silent.AddResultListener(o)

	dismissing := memory.NewDevice(memory.Config{Decider: platform.CancelAll})
	o2 := permission.NewOrchestrator(permission.OrchestratorConfig{Requester: dismissing, Recorder: m, Timeout: time.Second})
	dismissing.AddResultListener(o2)

	// when
	f1, err := o.Request(context.Background(), []permission.Name{"CAMERA"})
	r.NoError(err)
	_, err = f1.Wait(context.Background())
	r.ErrorIs(err, permission.ErrPlatformUnresponsive)

	f2, err := o2.Request(context.Background(), []permission.Name{"CAMERA"})
	r.NoError(err)
	_, err = f2.Wait(context.Background())
	r.NoError(err)

	// then
	r.Equal(1.0, testutil.ToFloat64(m.Timeouts))
	r.Equal(1.0, testutil.ToFloat64(m.Requests.WithLabelValues("timeout")))
	r.Equal(1.0, testutil.ToFloat64(m.Requests.WithLabelValues("cancelled")))
}

func TestMetrics_ChecksCounted(t *testing.T) {
	// given
	registry := prometheus.NewRegistry()
	m, err := New(Options{Registerer: registry})
	require.NoError(t, err)
	q := permission.NewQueryService(permission.DefaultRegistry(), memory.NewDevice(memory.Config{}), permission.WithQueryRecorder(m))

	// when
	_, err = q.Check(context.Background(), []permission.Name{"CAMERA", "SEND_SMS", "BOGUS"})

	// then
	require.NoError(t, err)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Checks))
}

func TestMetrics_ReusesRegisteredCollectors(t *testing.T) {
	r := require.New(t)

	// given
	registry := prometheus.NewRegistry()
	first, err := New(Options{Registerer: registry})
	r.NoError(err)

	// when
	second, err := New(Options{Registerer: registry})

	// then - both share collectors
	r.NoError(err)
	first.Conflict()
	r.Equal(1.0, testutil.ToFloat64(second.Conflicts))
}

func TestMetrics_Handler(t *testing.T) {
	r := require.New(t)

	// given
	registry := prometheus.NewRegistry()
	m, err := New(Options{Registerer: registry})
	r.NoError(err)
	m.RequestResolved("completed")

	// when
	rr := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	// then
	r.Equal(http.StatusOK, rr.Code)
	body := rr.Body.String()
	r.True(strings.Contains(body, `permbridge_requests_total{result="completed"} 1`), body)
	r.Contains(body, "permbridge_pending")
}
