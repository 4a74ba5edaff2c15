// Package desktop routes permission prompts to a desktop frontend through events
package desktop

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"permbridge/permission"
	"permbridge/platform"
)

// Events exchanged with the frontend
const (
	PromptEvent       = "permission_prompt"
	PromptClosedEvent = "permission_prompt_closed"
	AnswerEvent       = "permission_answer"
)

// Emitter delivers an event to the frontend
type Emitter interface {
	Emit(event string, data any)
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(event string, data any)

// Emit implements Emitter
func (f EmitterFunc) Emit(event string, data any) {
	f(event, data)
}

// PromptPermission is one row of a prompt
type PromptPermission struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Prompt is the payload of PromptEvent
type Prompt struct {
	RequestCode int                `json:"requestCode"`
	Permissions []PromptPermission `json:"permissions"`
}

// Prompter is a platform.Decider answered by the frontend calling Answer
type Prompter struct {
	emitter  Emitter
	registry *permission.Registry
	log      *slog.Logger

	mu      sync.Mutex
	next    int
	waiting map[int]*waiter
}

type waiter struct {
	prompt  Prompt
	answers chan []bool
}

var _ platform.Decider = (*Prompter)(nil)

// NewPrompter creates a Prompter emitting through emitter
func NewPrompter(emitter Emitter, registry *permission.Registry, logger *slog.Logger) *Prompter {
	if registry == nil {
		registry = permission.DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prompter{
		emitter:  emitter,
		registry: registry,
		log:      logger,
		waiting:  make(map[int]*waiter),
	}
}

// Decide implements platform.Decider
func (p *Prompter) Decide(ctx context.Context, ids []permission.PlatformID) ([]bool, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	prompt := Prompt{Permissions: make([]PromptPermission, len(ids))}
	for i, id := range ids {
		name, ok := p.registry.Lookup(id)
		if !ok {
			name = permission.Name(id)
		}
		prompt.Permissions[i] = PromptPermission{Name: string(name), ID: string(id)}
	}

	w := &waiter{answers: make(chan []bool, 1)}
	p.mu.Lock()
	p.next++
	prompt.RequestCode = p.next
	w.prompt = prompt
	p.waiting[prompt.RequestCode] = w
	p.mu.Unlock()

	p.log.Info("showing permission prompt", "prompt", prompt.RequestCode, "ids", ids)
	p.emitter.Emit(PromptEvent, prompt)

	select {
	case grants := <-w.answers:
		return grants, nil
	case <-ctx.Done():
		p.drop(prompt.RequestCode)
		p.emitter.Emit(PromptClosedEvent, prompt.RequestCode)
		return nil, ctx.Err()
	}
}

// Answer resolves a prompt. grants align with the prompt's permissions; an
// empty slice dismisses it.
func (p *Prompter) Answer(requestCode int, grants []bool) error {
	w := p.drop(requestCode)
	if w == nil {
		return fmt.Errorf("no permission prompt %d", requestCode)
	}
	if len(grants) > 0 {
		full := make([]bool, len(w.prompt.Permissions))
		copy(full, grants)
		grants = full
	}
	w.answers <- grants
	return nil
}

func (p *Prompter) drop(requestCode int) *waiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.waiting[requestCode]
	if !ok {
		return nil
	}
	delete(p.waiting, requestCode)
	return w
}

// Pending lists open prompts, oldest first, for a frontend that reloads
func (p *Prompter) Pending() []Prompt {
	p.mu.Lock()
	defer p.mu.Unlock()
	prompts := make([]Prompt, 0, len(p.waiting))
	for _, w := range p.waiting {
		prompts = append(prompts, w.prompt)
	}
	sort.Slice(prompts, func(i, j int) bool { return prompts[i].RequestCode < prompts[j].RequestCode })
	return prompts
}
