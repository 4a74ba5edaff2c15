package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"permbridge/permission"
)

// Method names understood by the dispatcher
const (
	MethodCheckPermission    = "checkPermission"
	MethodCheckPermissions   = "checkPermissions"
	MethodRequestPermission  = "requestPermission"
	MethodRequestPermissions = "requestPermissions"
	MethodOpenSettings       = "openSettings"
	MethodPlatformVersion    = "getPlatformVersion"
)

// System is the part of the platform the dispatcher uses directly
type System interface {
	OpenSettings(ctx context.Context) error
	Version(ctx context.Context) (string, error)
}

// DispatcherConfig for creating a Dispatcher
type DispatcherConfig struct {
	Query        *permission.QueryService
	Orchestrator *permission.Orchestrator
	System       System
	Logger       *slog.Logger
}

// Dispatcher maps method calls onto the query service and orchestrator
type Dispatcher struct {
	query        *permission.QueryService
	orchestrator *permission.Orchestrator
	system       System
	log          *slog.Logger
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		query:        cfg.Query,
		orchestrator: cfg.Orchestrator,
		system:       cfg.System,
		log:          cfg.Logger,
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	return d
}

// HandleCall runs method with args and resolves result exactly once. Requests
// resolve later, after the platform answers.
func (d *Dispatcher) HandleCall(ctx context.Context, method string, args map[string]any, result Result) {
	result = Once(result)
	defer d.rescue(method, result)

	switch method {
	case MethodCheckPermission:
		name, err := permissionArg(args)
		if err != nil {
			invalid(result, err)
			return
		}
		d.check(ctx, []permission.Name{name}, true, result)

	case MethodCheckPermissions:
		names, err := permissionsArg(args)
		if err != nil {
			invalid(result, err)
			return
		}
		d.check(ctx, names, false, result)

	case MethodRequestPermission:
		name, err := permissionArg(args)
		if err != nil {
			invalid(result, err)
			return
		}
		d.request(ctx, []permission.Name{name}, true, result)

	case MethodRequestPermissions:
		names, err := permissionsArg(args)
		if err != nil {
			invalid(result, err)
			return
		}
		d.request(ctx, names, false, result)

	case MethodOpenSettings:
		if err := d.system.OpenSettings(ctx); err != nil {
			d.log.Warn("open settings failed", "error", err)
		}
		result.Success(true)

	case MethodPlatformVersion:
		version, err := d.system.Version(ctx)
		if err != nil {
			result.Error(CodePlatformError, err.Error(), nil)
			return
		}
		result.Success(version)

	default:
		d.log.Debug("method not implemented", "method", method)
		result.NotImplemented()
	}
}

func (d *Dispatcher) rescue(method string, result Result) {
	if r := recover(); r != nil {
		d.log.Error("method handler panicked", "method", method, "panic", r, "stack", string(debug.Stack()))
		result.Error(CodeInternal, fmt.Sprint(r), nil)
	}
}

func (d *Dispatcher) check(ctx context.Context, names []permission.Name, single bool, result Result) {
	outcomes, err := d.query.Check(ctx, names)
	if err != nil {
		result.Error(CodePlatformError, err.Error(), nil)
		return
	}
	succeed(result, outcomes, single)
}

func (d *Dispatcher) request(ctx context.Context, names []permission.Name, single bool, result Result) {
	future, err := d.orchestrator.Request(ctx, names)
	if err != nil {
		failed(result, err)
		return
	}
	if future.Resolved() {
		d.settle(context.Background(), future, single, result)
		return
	}
	go func() {
		defer d.rescue(MethodRequestPermissions, result)
		d.settle(context.WithoutCancel(ctx), future, single, result)
	}()
}

func (d *Dispatcher) settle(ctx context.Context, future *permission.Future, single bool, result Result) {
	outcomes, err := future.Wait(ctx)
	if err != nil {
		failed(result, err)
		return
	}
	succeed(result, outcomes, single)
}

func succeed(result Result, outcomes []permission.Outcome, single bool) {
	if single {
		code := permission.Denied.Code()
		if len(outcomes) > 0 {
			code = outcomes[0].Code()
		}
		result.Success(code)
		return
	}
	result.Success(permission.Codes(outcomes))
}

func failed(result Result, err error) {
	switch {
	case errors.Is(err, permission.ErrRequestInProgress):
		result.Error(CodeBusy, err.Error(), nil)
	case errors.Is(err, permission.ErrPlatformUnresponsive):
		result.Error(CodePlatformUnresponsive, err.Error(), nil)
	case errors.Is(err, permission.ErrClosed):
		result.Error(CodeUnavailable, err.Error(), nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		result.Error(CodeUnavailable, err.Error(), nil)
	default:
		result.Error(CodePlatformError, err.Error(), nil)
	}
}

func invalid(result Result, err error) {
	result.Error(CodeInvalidArguments, err.Error(), nil)
}

func permissionArg(args map[string]any) (permission.Name, error) {
	v, ok := args["permission"]
	if !ok {
		return "", errors.New("missing argument: permission")
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument permission: want string, got %T", v)
	}
	return permission.Name(strings.TrimSpace(s)), nil
}

func permissionsArg(args map[string]any) ([]permission.Name, error) {
	v, ok := args["permissions"]
	if !ok {
		return nil, errors.New("missing argument: permissions")
	}
	switch list := v.(type) {
	case []string:
		return permission.ParseNames(list), nil
	case []permission.Name:
		return list, nil
	case []any:
		raw := make([]string, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("argument permissions[%d]: want string, got %T", i, item)
			}
			raw[i] = s
		}
		return permission.ParseNames(raw), nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("argument permissions: want list of strings, got %T", v)
}

// Invoke calls method on d and waits for its result. Errors reported through
// the Result come back as *ChannelError, unknown methods as ErrNotImplemented.
func Invoke(ctx context.Context, d *Dispatcher, method string, args map[string]any) (any, error) {
	r := newReply()
	d.HandleCall(ctx, method, args, r)
	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
