// Package broker assembles a platform backend, the orchestrator and the method
// dispatcher from configuration.
package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"permbridge/channel"
	"permbridge/config"
	"permbridge/metrics"
	"permbridge/permission"
	"permbridge/platform"
	"permbridge/platform/console"
	"permbridge/platform/memory"
	"permbridge/platform/native"
)

// Options tune how the broker is assembled
type Options struct {
	// Decider answers simulated requests, overriding [platform] auto_decision
	Decider platform.Decider
	// PromptIn and PromptOut carry console prompts; nil opens the terminal
	PromptIn  io.Reader
	PromptOut io.Writer
	Logger    *slog.Logger
}

// Broker is a ready-to-serve permission stack
type Broker struct {
	Registry     *permission.Registry
	Platform     platform.Platform
	Query        *permission.QueryService
	Orchestrator *permission.Orchestrator
	Dispatcher   *channel.Dispatcher
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer

	log     *slog.Logger
	closers []io.Closer
}

// New builds the stack described by cfg
func New(ctx context.Context, cfg config.Config, opts Options) (*Broker, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	m, err := metrics.New(metrics.Options{Registerer: promRegistry})
	if err != nil {
		return nil, err
	}

	b := &Broker{
		Registry: cfg.PermissionRegistry(),
		Metrics:  m,
		Gatherer: promRegistry,
		log:      logger,
	}

	b.Platform, err = b.platform(ctx, cfg, opts)
	if err != nil {
		b.Close()
		return nil, err
	}

	b.Query = permission.NewQueryService(b.Registry, b.Platform,
		permission.WithQueryLogger(logger),
		permission.WithQueryRecorder(m),
	)
	b.Orchestrator = permission.NewOrchestrator(permission.OrchestratorConfig{
		Registry:    b.Registry,
		Requester:   b.Platform,
		Logger:      logger,
		Recorder:    m,
		RequestCode: cfg.Broker.RequestCode,
		Timeout:     cfg.RequestTimeout(),
		Conflict:    cfg.Conflict(),
	})
	b.Platform.AddResultListener(b.Orchestrator)

	b.Dispatcher = channel.NewDispatcher(channel.DispatcherConfig{
		Query:        b.Query,
		Orchestrator: b.Orchestrator,
		System:       b.Platform,
		Logger:       logger,
	})

	logger.Info("broker ready",
		"platform", cfg.Platform.Kind,
		"conflict_policy", cfg.Conflict(),
		"timeout", cfg.RequestTimeout(),
		"permissions", b.Registry.Len(),
	)
	return b, nil
}

func (b *Broker) platform(ctx context.Context, cfg config.Config, opts Options) (platform.Platform, error) {
	switch cfg.Platform.Kind {
	case config.PlatformNative:
		p, err := native.Spawn(ctx, native.SpawnConfig{
			Command:     cfg.Platform.HelperCommand,
			Args:        cfg.Platform.HelperArgs,
			PackageName: cfg.Platform.PackageName,
			Logger:      b.log,
		})
		if err != nil {
			return nil, fmt.Errorf("native platform: %w", err)
		}
		b.closers = append(b.closers, p)
		return p, nil

	case config.PlatformConsole:
		decider := opts.Decider
		if decider == nil {
			prompter, err := b.prompter(opts)
			if err != nil {
				return nil, err
			}
			decider = prompter
		}
		return b.device(cfg, decider), nil

	case config.PlatformMemory, "":
		decider := opts.Decider
		if decider == nil {
			decider = autoDecider(cfg.Platform.AutoDecision)
		}
		return b.device(cfg, decider), nil
	}
	return nil, fmt.Errorf("unknown platform kind %q", cfg.Platform.Kind)
}

func (b *Broker) device(cfg config.Config, decider platform.Decider) *memory.Device {
	d := memory.NewDevice(memory.Config{
		Version: cfg.Platform.Version,
		Granted: cfg.GrantedIDs(),
		Decider: decider,
		Logger:  b.log,
	})
	b.closers = append(b.closers, d)
	return d
}

func (b *Broker) prompter(opts Options) (*console.Prompter, error) {
	in, out := opts.PromptIn, opts.PromptOut
	if in == nil || out == nil {
		tty, err := console.OpenTerminal()
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, tty)
		if in == nil {
			in = tty
		}
		if out == nil {
			out = tty
		}
	}
	return console.NewPrompter(in, out, b.Registry, b.log), nil
}

// autoDecider maps [platform] auto_decision onto a Decider. "none" leaves
// requests open so they end in a timeout.
func autoDecider(decision string) platform.Decider {
	switch decision {
	case "grant":
		return platform.GrantAll
	case "deny":
		return platform.DenyAll
	case "cancel":
		return platform.CancelAll
	}
	return nil
}

// Close stops the orchestrator, then the platform
func (b *Broker) Close() error {
	var errs []error
	if b.Orchestrator != nil {
		errs = append(errs, b.Orchestrator.Close())
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i].Close())
	}
	return errors.Join(errs...)
}
