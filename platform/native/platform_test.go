package native

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permbridge/channel"
	"permbridge/permission"
	"permbridge/platform"
	"permbridge/platform/memory"
)

const (
	camera = permission.PlatformID("android.permission.CAMERA")
	audio  = permission.PlatformID("android.permission.RECORD_AUDIO")
)

// connect wires a Platform to a Helper serving device over in-memory pipes
func connect(t *testing.T, device *memory.Device) (*Platform, channel.Transport) {
	t.Helper()
	helperReader, brokerWriter := io.Pipe()
	brokerReader, helperWriter := io.Pipe()

	helperTransport := channel.NewStdioTransport(helperWriter, helperReader, nil)
	NewHelper(helperTransport, device, "Android 14", nil)

	p := New(Config{
		Transport:   channel.NewStdioTransport(brokerWriter, brokerReader, nil),
		PackageName: "com.example.app",
	})
	t.Cleanup(func() {
		p.Close()
		helperTransport.Close()
		device.Close()
	})
	return p, helperTransport
}

type mockListener struct {
	mu     sync.Mutex
	token  int
	ids    []permission.PlatformID
	grants []bool
	got    chan struct{}
}

func newMockListener() *mockListener {
	return &mockListener{got: make(chan struct{}, 4)}
}

func (m *mockListener) OnRequestPermissionsResult(token int, ids []permission.PlatformID, grants []bool) bool {
	m.mu.Lock()
	m.token, m.ids, m.grants = token, ids, grants
	m.mu.Unlock()
	m.got <- struct{}{}
	return true
}

func (m *mockListener) wait(t *testing.T) {
	t.Helper()
	select {
	case <-m.got:
	case <-time.After(time.Second):
		t.Fatal("no permission result")
	}
}

func TestPlatform_InitializeAndVersion(t *testing.T) {
	r := require.New(t)

	// given
	p, _ := connect(t, memory.NewDevice(memory.Config{Version: "Android 14"}))

	// when
	name, err := p.Initialize(context.Background())
	r.NoError(err)
	version, err := p.Version(context.Background())

	// then
	r.NoError(err)
	r.Equal("Android 14", name)
	r.Equal("Android 14", version)
}

func TestPlatform_GrantChecks(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	// given - camera granted, audio denied once
	device := memory.NewDevice(memory.Config{Granted: []permission.PlatformID{camera}, Decider: platform.DenyAll})
	l := newMockListener()
	device.AddResultListener(l)
	r.NoError(device.RequestGrants(ctx, []permission.PlatformID{audio}, 1))
	l.wait(t)
	p, _ := connect(t, device)

	// when/then
	granted, err := p.IsGranted(ctx, camera)
	r.NoError(err)
	r.True(granted)

	granted, err = p.IsGranted(ctx, audio)
	r.NoError(err)
	r.False(granted)

	show, err := p.ShouldShowRationale(ctx, audio)
	r.NoError(err)
	r.True(show)
}

func TestPlatform_RequestResultReachesListeners(t *testing.T) {
	r := require.New(t)

	// given
	device := memory.NewDevice(memory.Config{})
	p, _ := connect(t, device)
	l := newMockListener()
	p.AddResultListener(l)

	// when
	r.NoError(p.RequestGrants(context.Background(), []permission.PlatformID{camera, audio}, 9001))
	r.Eventually(func() bool {
		_, showing := device.Showing()
		return showing
	}, time.Second, 5*time.Millisecond)
	r.NoError(device.Complete([]bool{true, false}))

	// then
	l.wait(t)
	l.mu.Lock()
	defer l.mu.Unlock()
	r.Equal(9001, l.token)
	r.Equal([]permission.PlatformID{camera, audio}, l.ids)
	r.Equal([]bool{true, false}, l.grants)
}

func TestPlatform_CancelledResultIsEmpty(t *testing.T) {
	// given
	p, _ := connect(t, memory.NewDevice(memory.Config{Decider: platform.CancelAll}))
	l := newMockListener()
	p.AddResultListener(l)

	// when
	require.NoError(t, p.RequestGrants(context.Background(), []permission.PlatformID{camera}, 9001))

	// then
	l.wait(t)
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.ids)
	assert.Empty(t, l.grants)
}

func TestPlatform_DrivesOrchestratorEndToEnd(t *testing.T) {
	r := require.New(t)

	// given
	p, _ := connect(t, memory.NewDevice(memory.Config{Decider: platform.GrantAll}))
	o := permission.NewOrchestrator(permission.OrchestratorConfig{Requester: p, Timeout: time.Second})
	p.AddResultListener(o)

	// when - two requests back to back
	for range 2 {
		future, err := o.Request(context.Background(), []permission.Name{"CAMERA", "BOGUS"})
		r.NoError(err)
		outcomes, err := future.Wait(context.Background())

		// then
		r.NoError(err)
		r.Equal([]permission.Outcome{permission.Granted, permission.Denied}, outcomes)
	}
}

func TestPlatform_OpenSettings(t *testing.T) {
	device := memory.NewDevice(memory.Config{})
	p, _ := connect(t, device)

	require.NoError(t, p.OpenSettings(context.Background()))
	assert.Equal(t, 1, device.SettingsOpened())
}

func TestPlatform_HelperGoneIsClosedError(t *testing.T) {
	// given
	p, helper := connect(t, memory.NewDevice(memory.Config{}))

	// when
	helper.Close()
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("platform did not notice helper exit")
	}
	_, err := p.IsGranted(context.Background(), camera)

	// then
	assert.True(t, errors.Is(err, ErrHelperClosed) || errors.Is(err, io.ErrClosedPipe), "got %v", err)
}

func TestPlatform_RejectsUnknownHelperCalls(t *testing.T) {
	// given - a raw peer instead of a Helper
	helperReader, brokerWriter := io.Pipe()
	brokerReader, helperWriter := io.Pipe()
	peer := channel.NewStdioTransport(helperWriter, helperReader, nil)
	p := New(Config{Transport: channel.NewStdioTransport(brokerWriter, brokerReader, nil)})
	defer p.Close()
	defer peer.Close()

	// when
	_, err := peer.Send(context.Background(), "vibrate", nil)

	// then
	var rpcErr *channel.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, channel.CodeMethodNotFound, rpcErr.Code)

	// when - a malformed result
	_, err = peer.Send(context.Background(), MethodPermissionsResult, json.RawMessage(`{"requestCode": "x"}`))

	// then
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, channel.CodeInvalidParams, rpcErr.Code)
}
