// Package memory implements an in-process simulated device. Grant state lives
// for the lifetime of the Device and follows Android's rationale rules: one
// denial makes a permission rationale-eligible, a second one blocks it.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"permbridge/permission"
	"permbridge/platform"
)

// DefaultVersion is reported when no version is configured
const DefaultVersion = "Simulated 1.0"

var (
	// ErrNoRequest is returned by Complete when nothing is showing
	ErrNoRequest = errors.New("memory: no permission dialog showing")
)

// Config for creating a Device
type Config struct {
	Version string
	Granted []permission.PlatformID
	Decider platform.Decider // nil leaves requests open until Complete
	Logger  *slog.Logger
}

type grantState struct {
	granted bool
	denials int
}

type dialog struct {
	ids    []permission.PlatformID
	token  int
	cancel context.CancelFunc // stops the decider once the dialog is replaced
	// preset holds answers known without asking; ask lists the indexes to ask about
	preset []bool
	ask    []int
}

// Device is a simulated permission subsystem
type Device struct {
	version string
	decider platform.Decider
	log     *slog.Logger

	listeners platform.Listeners
	ctx       context.Context
	cancel    context.CancelFunc

	mu       sync.Mutex
	state    map[permission.PlatformID]*grantState
	showing  *dialog
	settings int
}

var _ platform.Platform = (*Device)(nil)

// NewDevice creates a Device
func NewDevice(cfg Config) *Device {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Device{
		version: cfg.Version,
		decider: cfg.Decider,
		log:     cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
		state:   make(map[permission.PlatformID]*grantState),
	}
	if d.version == "" {
		d.version = DefaultVersion
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	for _, id := range cfg.Granted {
		d.entry(id).granted = true
	}
	return d
}

func (d *Device) entry(id permission.PlatformID) *grantState {
	s, ok := d.state[id]
	if !ok {
		s = &grantState{}
		d.state[id] = s
	}
	return s
}

// IsGranted implements platform.Platform
func (d *Device) IsGranted(_ context.Context, id permission.PlatformID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.state[id]
	return ok && s.granted, nil
}

// ShouldShowRationale implements platform.Platform
func (d *Device) ShouldShowRationale(_ context.Context, id permission.PlatformID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.state[id]
	return ok && !s.granted && s.denials == 1, nil
}

// AddResultListener implements platform.Platform
func (d *Device) AddResultListener(l permission.ResultListener) {
	d.listeners.Add(l)
}

// RequestGrants implements platform.Platform. Granted and blocked ids are answered
// without asking; the rest go to the Decider on a separate goroutine. A dialog
// still showing is replaced and its result never reported.
func (d *Device) RequestGrants(_ context.Context, ids []permission.PlatformID, token int) error {
	ctx, cancel := context.WithCancel(d.ctx)
	dlg := &dialog{ids: ids, token: token, cancel: cancel, preset: make([]bool, len(ids))}

	d.mu.Lock()
	if stale := d.showing; stale != nil {
		d.log.Info("permission dialog replaced", "request_code", stale.token, "ids", stale.ids)
		stale.cancel()
	}
	for i, id := range ids {
		s := d.entry(id)
		switch {
		case s.granted:
			dlg.preset[i] = true
		case s.denials >= 2:
			// blocked, answered as denied
		default:
			dlg.ask = append(dlg.ask, i)
		}
	}
	d.showing = dlg
	decider := d.decider
	d.mu.Unlock()

	d.log.Debug("permission dialog shown", "ids", ids, "request_code", token, "asking", len(dlg.ask))

	if len(dlg.ask) == 0 {
		go d.finish(dlg, dlg.preset)
		return nil
	}
	if decider == nil {
		return nil
	}
	go d.decide(ctx, decider, dlg)
	return nil
}

func (d *Device) decide(ctx context.Context, decider platform.Decider, dlg *dialog) {
	ask := make([]permission.PlatformID, len(dlg.ask))
	for i, idx := range dlg.ask {
		ask[i] = dlg.ids[idx]
	}
	answers, err := decider.Decide(ctx, ask)
	if err != nil && ctx.Err() != nil {
		d.log.Debug("permission decider stopped", "request_code", dlg.token, "error", err)
		return
	}
	if err != nil {
		d.log.Warn("permission decider failed", "error", err)
		answers = nil
	}
	d.finish(dlg, d.merge(dlg, answers))
}

// merge combines preset answers with the decider's. An empty answer set is a
// dismissed dialog and stays empty.
func (d *Device) merge(dlg *dialog, answers []bool) []bool {
	if len(answers) == 0 {
		return nil
	}
	grants := append([]bool(nil), dlg.preset...)
	for i, idx := range dlg.ask {
		grants[idx] = i < len(answers) && answers[i]
	}
	return grants
}

// Complete answers the showing dialog with grants aligned to the asked ids,
// or dismisses it when grants is empty. Only needed without a Decider.
func (d *Device) Complete(grants []bool) error {
	d.mu.Lock()
	dlg := d.showing
	d.mu.Unlock()
	if dlg == nil {
		return ErrNoRequest
	}
	if len(grants) == 0 {
		d.finish(dlg, nil)
		return nil
	}
	full := append([]bool(nil), dlg.preset...)
	for i, idx := range dlg.ask {
		full[idx] = i < len(grants) && grants[i]
	}
	d.finish(dlg, full)
	return nil
}

func (d *Device) finish(dlg *dialog, grants []bool) {
	d.mu.Lock()
	if d.showing != dlg {
		d.mu.Unlock()
		return
	}
	d.showing = nil
	dlg.cancel()
	for i, g := range grants {
		s := d.entry(dlg.ids[i])
		if g {
			s.granted, s.denials = true, 0
		} else if !s.granted {
			s.denials++
		}
	}
	d.mu.Unlock()

	if len(grants) == 0 {
		d.log.Debug("permission dialog dismissed", "request_code", dlg.token)
		d.listeners.Dispatch(dlg.token, nil, nil)
		return
	}
	d.log.Debug("permission dialog answered", "request_code", dlg.token, "grants", grants)
	d.listeners.Dispatch(dlg.token, dlg.ids, grants)
}

// Showing returns the ids of the dialog currently up, if any
func (d *Device) Showing() ([]permission.PlatformID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.showing == nil {
		return nil, false
	}
	return append([]permission.PlatformID(nil), d.showing.ids...), true
}

// Grant marks id as granted, as if changed from the settings screen
func (d *Device) Grant(id permission.PlatformID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.entry(id)
	s.granted, s.denials = true, 0
}

// Revoke clears a grant; denial history is kept
func (d *Device) Revoke(id permission.PlatformID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entry(id).granted = false
}

// OpenSettings implements platform.Platform
func (d *Device) OpenSettings(context.Context) error {
	d.mu.Lock()
	d.settings++
	d.mu.Unlock()
	d.log.Info("opened app settings")
	return nil
}

// SettingsOpened counts OpenSettings calls
func (d *Device) SettingsOpened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// Version implements platform.Platform
func (d *Device) Version(context.Context) (string, error) {
	return d.version, nil
}

// Close stops outstanding deciders
func (d *Device) Close() error {
	d.cancel()
	return nil
}
