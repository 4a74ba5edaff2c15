// Package native talks to an out-of-process helper that owns the real OS
// permission APIs, e.g. a companion app on an Android device.
package native

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"permbridge/channel"
	"permbridge/permission"
	"permbridge/platform"
)

// ErrHelperClosed is returned once the helper connection is gone
var ErrHelperClosed = errors.New("native helper closed")

// Config for creating a Platform
type Config struct {
	Transport   channel.Transport
	PackageName string
	Logger      *slog.Logger
}

// Platform implements platform.Platform over a helper connection
type Platform struct {
	transport   channel.Transport
	packageName string
	log         *slog.Logger
	listeners   platform.Listeners

	// set by Spawn
	stop func() error
}

var _ platform.Platform = (*Platform)(nil)

// New creates a Platform on an open transport. Call Initialize before use.
func New(cfg Config) *Platform {
	p := &Platform{
		transport:   cfg.Transport,
		packageName: cfg.PackageName,
		log:         cfg.Logger,
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	p.transport.OnMethod(p.handleMethod)
	return p
}

// Initialize performs the protocol handshake and returns the helper's platform name
func (p *Platform) Initialize(ctx context.Context) (string, error) {
	var result InitializeResult
	err := p.call(ctx, MethodInitialize, InitializeParams{
		ProtocolVersion: ProtocolVersion,
		PackageName:     p.packageName,
	}, &result)
	if err != nil {
		return "", err
	}
	if result.ProtocolVersion != 0 && result.ProtocolVersion != ProtocolVersion {
		return "", fmt.Errorf("helper speaks protocol %d, want %d", result.ProtocolVersion, ProtocolVersion)
	}
	p.log.Info("native helper ready", "platform", result.Platform)
	return result.Platform, nil
}

func (p *Platform) call(ctx context.Context, method string, params, out any) error {
	resp, err := p.transport.Send(ctx, method, params)
	if errors.Is(err, channel.ErrTransportClosed) {
		return fmt.Errorf("%s: %w", method, ErrHelperClosed)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if out == nil || len(resp) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("%s result: %w", method, err)
	}
	return nil
}

// IsGranted implements platform.Platform
func (p *Platform) IsGranted(ctx context.Context, id permission.PlatformID) (bool, error) {
	var result GrantedResult
	if err := p.call(ctx, MethodIsGranted, PermissionParams{Permission: string(id)}, &result); err != nil {
		return false, err
	}
	return result.Granted, nil
}

// ShouldShowRationale implements platform.Platform
func (p *Platform) ShouldShowRationale(ctx context.Context, id permission.PlatformID) (bool, error) {
	var result RationaleResult
	if err := p.call(ctx, MethodShouldShowRationale, PermissionParams{Permission: string(id)}, &result); err != nil {
		return false, err
	}
	return result.Show, nil
}

// RequestGrants implements platform.Platform. The helper acknowledges at once
// and answers later with onRequestPermissionsResult.
func (p *Platform) RequestGrants(ctx context.Context, ids []permission.PlatformID, token int) error {
	perms := make([]string, len(ids))
	for i, id := range ids {
		perms[i] = string(id)
	}
	return p.call(ctx, MethodRequestPermissions, RequestParams{Permissions: perms, RequestCode: token}, nil)
}

// AddResultListener implements platform.Platform
func (p *Platform) AddResultListener(l permission.ResultListener) {
	p.listeners.Add(l)
}

// OpenSettings implements platform.Platform
func (p *Platform) OpenSettings(ctx context.Context) error {
	return p.call(ctx, MethodOpenSettings, SettingsParams{PackageName: p.packageName}, nil)
}

// Version implements platform.Platform
func (p *Platform) Version(ctx context.Context) (string, error) {
	var version string
	if err := p.call(ctx, MethodPlatformVersion, nil, &version); err != nil {
		return "", err
	}
	return version, nil
}

// Done is closed when the helper goes away
func (p *Platform) Done() <-chan struct{} {
	return p.transport.Done()
}

// Close shuts down the connection and, for spawned helpers, the process
func (p *Platform) Close() error {
	err := p.transport.Close()
	if p.stop != nil {
		if stopErr := p.stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	return err
}

func (p *Platform) handleMethod(method string, params json.RawMessage, id *int) {
	switch method {
	case MethodPermissionsResult:
		var result ResultParams
		if err := json.Unmarshal(params, &result); err != nil {
			p.log.Warn("malformed permission result", "error", err)
			p.reject(id, channel.CodeInvalidParams, err.Error())
			return
		}
		ids := make([]permission.PlatformID, len(result.Permissions))
		for i, perm := range result.Permissions {
			ids[i] = permission.PlatformID(perm)
		}
		grants := platform.GrantsFromCodes(result.GrantResults)
		p.log.Debug("permission result from helper", "request_code", result.RequestCode, "ids", ids, "grants", grants)

		// listeners may issue the next request over this transport, so leave the read loop
		go p.listeners.Dispatch(result.RequestCode, ids, grants)
		if id != nil {
			if err := p.transport.Respond(id, true); err != nil {
				p.log.Warn("acknowledge permission result", "error", err)
			}
		}

	default:
		p.log.Debug("unhandled helper method", "method", method)
		p.reject(id, channel.CodeMethodNotFound, "method not implemented: "+method)
	}
}

func (p *Platform) reject(id *int, code int, message string) {
	if id == nil {
		return
	}
	if err := p.transport.RespondError(id, &channel.RPCError{Code: code, Message: message}); err != nil {
		p.log.Warn("reject helper call", "error", err)
	}
}
