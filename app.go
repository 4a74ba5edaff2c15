package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	goruntime "runtime"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"permbridge/channel"
	"permbridge/config"
	"permbridge/internal/broker"
	"permbridge/mcpserver"
	"permbridge/platform/desktop"
)

type RegistryEntry struct{ Name, ID string }

type App struct {
	ctx          context.Context
	cfg          config.Config
	broker       *broker.Broker
	prompter     *desktop.Prompter
	mcpServer    *mcpserver.Server
	mcpServerURL string
	openURL      func(url string)
}

func NewApp(cfg config.Config) *App { return &App{cfg: cfg} }

func (a *App) startup(ctx context.Context) {
	emitter := desktop.EmitterFunc(func(event string, data any) { runtime.EventsEmit(ctx, event, data) })
	opener := func(url string) { runtime.BrowserOpenURL(ctx, url) }
	if err := a.start(ctx, emitter, opener); err != nil {
		slog.Error("failed to start permission broker", "error", err)
		runtime.EventsEmit(ctx, "error", err.Error())
		return
	}
	runtime.EventsOn(ctx, desktop.AnswerEvent, a.handleAnswer)
}

// start wires the broker with prompts routed to the frontend through emitter
func (a *App) start(ctx context.Context, emitter desktop.Emitter, openURL func(string)) error {
	a.ctx = ctx
	a.openURL = openURL
	registry := a.cfg.PermissionRegistry()
	a.prompter = desktop.NewPrompter(emitter, registry, slog.Default())

	b, err := broker.New(ctx, a.cfg, broker.Options{Decider: a.prompter})
	if err != nil {
		return err
	}
	a.broker = b

	a.mcpServer = mcpserver.New(mcpserver.Config{
		Dispatcher: b.Dispatcher,
		Registry:   b.Registry,
		Gatherer:   b.Gatherer,
		BaseURL:    a.cfg.MCP.BaseURL,
	})
	if url, err := a.mcpServer.Start(a.cfg.MCP.Bind); err != nil {
		slog.Error("failed to start MCP server", "error", err)
		a.mcpServer = nil
	} else {
		a.mcpServerURL = url
	}
	return nil
}

func (a *App) shutdown(ctx context.Context) {
	if a.mcpServer != nil {
		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		a.mcpServer.Stop(stopCtx)
	}
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			slog.Error("close broker", "error", err)
		}
	}
}

func (a *App) invoke(method string, args map[string]any) (any, error) {
	if a.broker == nil {
		return nil, errors.New("permission broker not running")
	}
	return channel.Invoke(a.ctx, a.broker.Dispatcher, method, args)
}

func (a *App) invokeInt(method string, args map[string]any) (int, error) {
	v, err := a.invoke(method, args)
	if err != nil {
		return 0, err
	}
	code, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("%s returned %T", method, v)
	}
	return code, nil
}

func (a *App) invokeInts(method string, args map[string]any) ([]int, error) {
	v, err := a.invoke(method, args)
	if err != nil {
		return nil, err
	}
	codes, ok := v.([]int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", method, v)
	}
	return codes, nil
}

func (a *App) CheckPermission(name string) (int, error) {
	return a.invokeInt(channel.MethodCheckPermission, map[string]any{"permission": name})
}

func (a *App) CheckPermissions(names []string) ([]int, error) {
	return a.invokeInts(channel.MethodCheckPermissions, map[string]any{"permissions": names})
}

// RequestPermission blocks until the prompt is answered; Wails runs bound calls on their own goroutine
func (a *App) RequestPermission(name string) (int, error) {
	return a.invokeInt(channel.MethodRequestPermission, map[string]any{"permission": name})
}

func (a *App) RequestPermissions(names []string) ([]int, error) {
	return a.invokeInts(channel.MethodRequestPermissions, map[string]any{"permissions": names})
}

func (a *App) OpenSettings() (bool, error) {
	v, err := a.invoke(channel.MethodOpenSettings, nil)
	if err != nil {
		return false, err
	}
	if url := settingsURL(goruntime.GOOS); url != "" && a.openURL != nil {
		a.openURL(url)
	}
	opened, _ := v.(bool)
	return opened, nil
}

func (a *App) GetPlatformVersion() (string, error) {
	v, err := a.invoke(channel.MethodPlatformVersion, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

func (a *App) GetRegistry() []RegistryEntry {
	registry := a.cfg.PermissionRegistry()
	entries := make([]RegistryEntry, 0, registry.Len())
	for _, name := range registry.Names() {
		entries = append(entries, RegistryEntry{Name: string(name), ID: string(registry.Resolve(name))})
	}
	return entries
}

func (a *App) GetPendingPrompts() []desktop.Prompt {
	if a.prompter == nil {
		return nil
	}
	return a.prompter.Pending()
}

func (a *App) AnswerPrompt(requestCode int, grants []bool) error {
	if a.prompter == nil {
		return errors.New("permission broker not running")
	}
	return a.prompter.Answer(requestCode, grants)
}

func (a *App) GetMCPServerURL() string { return a.mcpServerURL }

func (a *App) handleAnswer(data ...interface{}) {
	m, ok := firstAs[map[string]interface{}](data)
	if !ok {
		slog.Error("permission_answer invalid params")
		return
	}
	var grants []bool
	if raw, ok := m["grants"].([]interface{}); ok {
		for _, g := range raw {
			b, _ := g.(bool)
			grants = append(grants, b)
		}
	}
	if err := a.AnswerPrompt(mapInt(m, "requestCode"), grants); err != nil {
		slog.Warn("permission answer rejected", "error", err)
	}
}

// settingsURL is the OS privacy settings page opened alongside the platform's own settings
func settingsURL(goos string) string {
	switch goos {
	case "darwin":
		return "x-apple.systempreferences:com.apple.preference.security?Privacy"
	case "windows":
		return "ms-settings:privacy"
	}
	return ""
}

func mapInt(m map[string]interface{}, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}

func firstAs[T any](data []interface{}) (T, bool) {
	var zero T
	if len(data) == 0 {
		return zero, false
	}
	v, ok := data[0].(T)
	return v, ok
}
