// Package platform defines the contract between the broker and an operating
// system's permission subsystem, plus helpers shared by the backends.
package platform

import (
	"context"
	"errors"
	"sync"

	"permbridge/permission"
)

// Android grant result codes as delivered by onRequestPermissionsResult
const (
	PermissionGranted = 0
	PermissionDenied  = -1
)

// ErrNoDecision is returned by a Decider that cannot answer a request
var ErrNoDecision = errors.New("no decision available")

// Platform is the permission subsystem of the host OS
type Platform interface {
	permission.GrantChecker
	permission.GrantRequester

	// AddResultListener registers a receiver for grant request results
	AddResultListener(l permission.ResultListener)

	// OpenSettings shows the OS settings screen for the running app
	OpenSettings(ctx context.Context) error

	// Version describes the platform, e.g. "Android 14"
	Version(ctx context.Context) (string, error)
}

// Decider answers a grant request on behalf of the user. An empty result
// means the user dismissed the request.
type Decider interface {
	Decide(ctx context.Context, ids []permission.PlatformID) ([]bool, error)
}

// DeciderFunc adapts a function to Decider
type DeciderFunc func(ctx context.Context, ids []permission.PlatformID) ([]bool, error)

// Decide implements Decider
func (f DeciderFunc) Decide(ctx context.Context, ids []permission.PlatformID) ([]bool, error) {
	return f(ctx, ids)
}

// GrantAll is a Decider that grants everything
var GrantAll = DeciderFunc(func(_ context.Context, ids []permission.PlatformID) ([]bool, error) {
	return fill(len(ids), true), nil
})

// DenyAll is a Decider that denies everything
var DenyAll = DeciderFunc(func(_ context.Context, ids []permission.PlatformID) ([]bool, error) {
	return fill(len(ids), false), nil
})

// CancelAll is a Decider that dismisses every request
var CancelAll = DeciderFunc(func(context.Context, []permission.PlatformID) ([]bool, error) {
	return nil, nil
})

func fill(n int, v bool) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// GrantsFromCodes converts Android grant codes to booleans
func GrantsFromCodes(codes []int) []bool {
	grants := make([]bool, len(codes))
	for i, c := range codes {
		grants[i] = c == PermissionGranted
	}
	return grants
}

// CodesFromGrants converts booleans to Android grant codes
func CodesFromGrants(grants []bool) []int {
	codes := make([]int, len(grants))
	for i, g := range grants {
		if g {
			codes[i] = PermissionGranted
		} else {
			codes[i] = PermissionDenied
		}
	}
	return codes
}

// Listeners fans a result out to registered listeners. Safe for concurrent use.
type Listeners struct {
	mu   sync.RWMutex
	list []permission.ResultListener
}

// Add registers l
func (l *Listeners) Add(listener permission.ResultListener) {
	if listener == nil {
		return
	}
	l.mu.Lock()
	l.list = append(l.list, listener)
	l.mu.Unlock()
}

// Dispatch delivers a result to every listener and reports whether any consumed it
func (l *Listeners) Dispatch(token int, ids []permission.PlatformID, grants []bool) bool {
	l.mu.RLock()
	list := make([]permission.ResultListener, len(l.list))
	copy(list, l.list)
	l.mu.RUnlock()

	consumed := false
	for _, listener := range list {
		if listener.OnRequestPermissionsResult(token, ids, grants) {
			consumed = true
		}
	}
	return consumed
}
