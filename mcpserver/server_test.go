package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permbridge/channel"
	"permbridge/metrics"
	"permbridge/permission"
	"permbridge/platform"
	"permbridge/platform/memory"
)

type fixture struct {
	device   *memory.Device
	server   *Server
	registry *prometheus.Registry
}

func newFixture(t *testing.T, decider platform.Decider) *fixture {
	t.Helper()

	promRegistry := prometheus.NewRegistry()
	m, err := metrics.New(metrics.Options{Registerer: promRegistry})
	require.NoError(t, err)

	registry := permission.DefaultRegistry()
	device := memory.NewDevice(memory.Config{Decider: decider, Version: "Android 14"})
	orchestrator := permission.NewOrchestrator(permission.OrchestratorConfig{
		Registry:  registry,
		Requester: device,
		Recorder:  m,
		Timeout:   time.Second,
	})
	device.AddResultListener(orchestrator)
	t.Cleanup(func() {
		orchestrator.Close()
		device.Close()
	})

	dispatcher := channel.NewDispatcher(channel.DispatcherConfig{
		Query:        permission.NewQueryService(registry, device, permission.WithQueryRecorder(m)),
		Orchestrator: orchestrator,
		System:       device,
	})

	return &fixture{
		device:   device,
		server:   New(Config{Dispatcher: dispatcher, Registry: registry, Gatherer: promRegistry}),
		registry: promRegistry,
	}
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	switch c := result.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	}
	t.Fatalf("unexpected content %T", result.Content[0])
	return ""
}

func statuses(t *testing.T, result *mcp.CallToolResult) []PermissionStatus {
	t.Helper()
	var out []PermissionStatus
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &out))
	return out
}

func TestCheckPermissions(t *testing.T) {
	r := require.New(t)

	// given
	f := newFixture(t, nil)
	f.device.Grant("android.permission.CAMERA")

	// when
	result, err := f.server.handleCheck(context.Background(), callRequest(ToolCheckPermissions, map[string]any{
		"permissions": []any{"CAMERA", "RECORD_AUDIO", "TELEPORT"},
	}))

	// then
	r.NoError(err)
	r.False(result.IsError)
	r.Equal([]PermissionStatus{
		{Permission: "CAMERA", Outcome: "granted", Code: 0},
		{Permission: "RECORD_AUDIO", Outcome: "denied", Code: 1},
		{Permission: "TELEPORT", Outcome: "denied", Code: 1},
	}, statuses(t, result))
}

func TestRequestPermissions(t *testing.T) {
	r := require.New(t)

	// given
	f := newFixture(t, platform.GrantAll)

	// when
	result, err := f.server.handleRequest(context.Background(), callRequest(ToolRequestPermissions, map[string]any{
		"permissions": []any{"CAMERA", "BOGUS"},
	}))

	// then
	r.NoError(err)
	r.False(result.IsError)
	r.Equal([]PermissionStatus{
		{Permission: "CAMERA", Outcome: "granted", Code: 0},
		{Permission: "BOGUS", Outcome: "denied", Code: 1},
	}, statuses(t, result))
}

func TestRequestPermissions_Busy(t *testing.T) {
	r := require.New(t)

	// given - the device keeps the first dialog open
	f := newFixture(t, nil)
	first := make(chan *mcp.CallToolResult, 1)
	go func() {
		result, _ := f.server.handleRequest(context.Background(), callRequest(ToolRequestPermissions, map[string]any{
			"permissions": []any{"CAMERA"},
		}))
		first <- result
	}()
	r.Eventually(func() bool {
		_, showing := f.device.Showing()
		return showing
	}, time.Second, 5*time.Millisecond)

	// when
	second, err := f.server.handleRequest(context.Background(), callRequest(ToolRequestPermissions, map[string]any{
		"permissions": []any{"RECORD_AUDIO"},
	}))

	// then
	r.NoError(err)
	r.True(second.IsError)
	r.Contains(textOf(t, second), channel.CodeBusy)

	r.NoError(f.device.Complete([]bool{true}))
	select {
	case result := <-first:
		r.Equal("granted", statuses(t, result)[0].Outcome)
	case <-time.After(time.Second):
		t.Fatal("first request never completed")
	}
}

func TestPermissionsArgumentErrors(t *testing.T) {
	f := newFixture(t, nil)

	cases := map[string]map[string]any{
		"missing":     {},
		"not a list":  {"permissions": "CAMERA"},
		"not strings": {"permissions": []any{"CAMERA", 3}},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			result, err := f.server.handleCheck(context.Background(), callRequest(ToolCheckPermissions, args))

			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}

func TestListPermissions(t *testing.T) {
	r := require.New(t)

	// given
	f := newFixture(t, nil)

	// when
	result, err := f.server.handleList(context.Background(), callRequest(ToolListPermissions, nil))

	// then
	r.NoError(err)
	var entries []map[string]string
	r.NoError(json.Unmarshal([]byte(textOf(t, result)), &entries))
	r.Len(entries, permission.DefaultRegistry().Len())
	r.Contains(entries, map[string]string{"permission": "CAMERA", "id": "android.permission.CAMERA"})
}

func TestOpenSettingsAndVersion(t *testing.T) {
	r := require.New(t)

	// given
	f := newFixture(t, nil)

	// when
	settings, err := f.server.handleOpenSettings(context.Background(), callRequest(ToolOpenSettings, nil))
	r.NoError(err)
	version, err := f.server.handleVersion(context.Background(), callRequest(ToolPlatformVersion, nil))
	r.NoError(err)

	// then
	r.False(settings.IsError)
	r.Equal(1, f.device.SettingsOpened())
	r.Equal("Android 14", textOf(t, version))
}

func TestStartServesMetrics(t *testing.T) {
	r := require.New(t)

	// given
	f := newFixture(t, nil)
	_, err := f.server.handleCheck(context.Background(), callRequest(ToolCheckPermissions, map[string]any{
		"permissions": []any{"CAMERA", "SEND_SMS"},
	}))
	r.NoError(err)

	// when
	sseURL, err := f.server.Start("127.0.0.1:0")
	r.NoError(err)
	defer f.server.Stop(context.Background())

	// then
	r.True(strings.HasSuffix(sseURL, "/sse"), sseURL)
	resp, err := http.Get(strings.TrimSuffix(sseURL, "/sse") + "/metrics")
	r.NoError(err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	r.NoError(err)
	r.Equal(http.StatusOK, resp.StatusCode)
	r.Contains(string(body), "permbridge_checks_total 2")
}

func TestStartAdvertisesConfiguredBaseURL(t *testing.T) {
	r := require.New(t)

	// given - the server sits behind a proxy
	s := New(Config{BaseURL: "http://example.test:9999/", Gatherer: prometheus.NewRegistry()})

	// when
	sseURL, err := s.Start("127.0.0.1:0")
	r.NoError(err)
	defer s.Stop(context.Background())

	// then
	r.Equal("http://example.test:9999/sse", sseURL)
	resp, err := http.Get("http://" + s.Addr().String() + "/metrics")
	r.NoError(err)
	defer resp.Body.Close()
	r.Equal(http.StatusOK, resp.StatusCode)
}
