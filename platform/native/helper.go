package native

import (
	"context"
	"encoding/json"
	"log/slog"

	"permbridge/channel"
	"permbridge/permission"
	"permbridge/platform"
)

// Helper is the far side of the protocol: it exposes a local platform.Platform
// over a transport. examples/helper runs one on stdio.
type Helper struct {
	transport channel.Transport
	platform  platform.Platform
	name      string
	log       *slog.Logger
}

// NewHelper serves p on transport. name is reported by initialize.
func NewHelper(transport channel.Transport, p platform.Platform, name string, logger *slog.Logger) *Helper {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Helper{transport: transport, platform: p, name: name, log: logger}
	p.AddResultListener(h)
	transport.OnMethod(h.handleMethod)
	return h
}

// Wait blocks until the broker disconnects or ctx ends
func (h *Helper) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.transport.Done():
		return nil
	}
}

// OnRequestPermissionsResult forwards a local grant answer to the broker
func (h *Helper) OnRequestPermissionsResult(token int, ids []permission.PlatformID, grants []bool) bool {
	perms := make([]string, len(ids))
	for i, id := range ids {
		perms[i] = string(id)
	}
	err := h.transport.Notify(MethodPermissionsResult, ResultParams{
		RequestCode:  token,
		Permissions:  perms,
		GrantResults: platform.CodesFromGrants(grants),
	})
	if err != nil {
		h.log.Error("send permission result", "error", err)
		return false
	}
	return true
}

func (h *Helper) handleMethod(method string, params json.RawMessage, id *int) {
	if id == nil {
		h.log.Debug("ignoring notification", "method", method)
		return
	}
	// requests may block on the platform; answer off the read loop
	go h.serve(method, params, id)
}

func (h *Helper) serve(method string, params json.RawMessage, id *int) {
	ctx := context.Background()
	result, err := h.dispatch(ctx, method, params)
	if err != nil {
		rpcErr, ok := err.(*channel.RPCError)
		if !ok {
			rpcErr = &channel.RPCError{Code: channel.CodeApplication, Message: err.Error()}
		}
		if err := h.transport.RespondError(id, rpcErr); err != nil {
			h.log.Error("write error response", "method", method, "error", err)
		}
		return
	}
	if err := h.transport.Respond(id, result); err != nil {
		h.log.Error("write response", "method", method, "error", err)
	}
}

func (h *Helper) dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case MethodInitialize:
		return InitializeResult{ProtocolVersion: ProtocolVersion, Platform: h.name}, nil

	case MethodIsGranted:
		var p PermissionParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		granted, err := h.platform.IsGranted(ctx, permission.PlatformID(p.Permission))
		return GrantedResult{Granted: granted}, err

	case MethodShouldShowRationale:
		var p PermissionParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		show, err := h.platform.ShouldShowRationale(ctx, permission.PlatformID(p.Permission))
		return RationaleResult{Show: show}, err

	case MethodRequestPermissions:
		var p RequestParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		ids := make([]permission.PlatformID, len(p.Permissions))
		for i, perm := range p.Permissions {
			ids[i] = permission.PlatformID(perm)
		}
		return nil, h.platform.RequestGrants(ctx, ids, p.RequestCode)

	case MethodOpenSettings:
		return true, h.platform.OpenSettings(ctx)

	case MethodPlatformVersion:
		return h.platform.Version(ctx)
	}
	return nil, &channel.RPCError{Code: channel.CodeMethodNotFound, Message: "method not implemented: " + method}
}

func decode(params json.RawMessage, v any) error {
	if err := json.Unmarshal(params, v); err != nil {
		return &channel.RPCError{Code: channel.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}
