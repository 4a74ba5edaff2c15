// Package console asks a person at a terminal to answer permission requests.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/creack/pty"

	"permbridge/permission"
	"permbridge/platform"
)

// TerminalPath is the controlling terminal, used when stdio carries the protocol
const TerminalPath = "/dev/tty"

// Prompter is a platform.Decider that prompts once per permission:
//
//	Allow CAMERA (android.permission.CAMERA)? [y/N]:
//
// "y" or "yes" grants, any other answer denies, end of input dismisses the request.
type Prompter struct {
	out      io.Writer
	registry *permission.Registry
	log      *slog.Logger

	mu    sync.Mutex
	lines chan string // closed at end of input
}

var _ platform.Decider = (*Prompter)(nil)

// NewPrompter reads answers from in and writes prompts to out
func NewPrompter(in io.Reader, out io.Writer, registry *permission.Registry, logger *slog.Logger) *Prompter {
	if registry == nil {
		registry = permission.DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Prompter{
		out:      out,
		registry: registry,
		log:      logger,
		lines:    make(chan string),
	}
	go p.readLoop(bufio.NewReader(in), p.lines)
	return p
}

// OpenTerminal opens the controlling terminal for prompting
func OpenTerminal() (*os.File, error) {
	tty, err := os.OpenFile(TerminalPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open terminal: %w", err)
	}
	return tty, nil
}

func (p *Prompter) readLoop(r *bufio.Reader, lines chan<- string) {
	defer close(lines)
	for {
		text, err := r.ReadString('\n')
		if text != "" {
			lines <- text
		}
		if err != nil {
			if err != io.EOF {
				p.log.Warn("reading permission answers", "error", err)
			}
			return
		}
	}
}

// Decide implements platform.Decider
func (p *Prompter) Decide(ctx context.Context, ids []permission.PlatformID) ([]bool, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.banner()
	grants := make([]bool, len(ids))
	for i, id := range ids {
		fmt.Fprintf(p.out, "Allow %s (%s)? [y/N]: ", p.label(id), id)

		var answer string
		var ok bool
		select {
		case answer, ok = <-p.lines:
		case <-ctx.Done():
			fmt.Fprintln(p.out)
			return nil, ctx.Err()
		}
		if !ok {
			fmt.Fprintln(p.out)
			p.log.Info("permission prompt input closed, dismissing request")
			return nil, nil
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			grants[i] = true
		}
	}
	return grants, nil
}

func (p *Prompter) label(id permission.PlatformID) string {
	if name, ok := p.registry.Lookup(id); ok {
		return string(name)
	}
	return string(id)
}

// banner separates prompt batches with a rule as wide as the terminal
func (p *Prompter) banner() {
	f, ok := p.out.(*os.File)
	if !ok {
		return
	}
	_, cols, err := pty.Getsize(f)
	if err != nil || cols <= 0 {
		return
	}
	fmt.Fprintln(f, strings.Repeat("-", cols))
}
