package native

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"permbridge/channel"
)

// stopGrace is how long a helper may take to exit after its stdin closes
const stopGrace = 2 * time.Second

// SpawnConfig describes the helper process to start
type SpawnConfig struct {
	Command     string
	Args        []string
	Env         []string // appended to the current environment
	PackageName string
	Logger      *slog.Logger
}

// Spawn starts the helper, performs the handshake and returns a ready Platform.
// The helper's stderr is passed through.
func Spawn(ctx context.Context, cfg SpawnConfig) (*Platform, error) {
	if cfg.Command == "" {
		return nil, errors.New("native helper command not configured")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}
	logger.Info("started native helper", "command", cfg.Command, "pid", cmd.Process.Pid)

	p := New(Config{
		Transport:   channel.NewStdioTransport(stdin, stdout, logger),
		PackageName: cfg.PackageName,
		Logger:      logger,
	})
	p.stop = func() error {
		// closing stdin asks the helper to exit; kill if it lingers
		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()
		select {
		case err := <-done:
			return err
		case <-time.After(stopGrace):
			logger.Warn("native helper did not exit, killing", "pid", cmd.Process.Pid)
			cmd.Process.Kill()
			return <-done
		}
	}

	if _, err := p.Initialize(ctx); err != nil {
		cmd.Process.Kill()
		p.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return p, nil
}
