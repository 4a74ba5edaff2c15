package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

const (
	// DefaultRequestCode is the correlation token sent with every grant request.
	// Only one request is in flight at a time, so a constant is enough.
	DefaultRequestCode = 9001

	// DefaultRequestTimeout bounds how long a request waits for the platform
	DefaultRequestTimeout = 30 * time.Second
)

var (
	// ErrRequestInProgress is returned when a request arrives while another is pending
	ErrRequestInProgress = errors.New("permission request already in progress")

	// ErrPlatformUnresponsive resolves a request the platform never answered
	ErrPlatformUnresponsive = errors.New("platform did not answer permission request")

	// ErrClosed is returned once the orchestrator has been closed
	ErrClosed = errors.New("orchestrator closed")
)

// ConflictPolicy decides what happens to a request issued while another is pending
type ConflictPolicy int

const (
	ConflictReject ConflictPolicy = iota // fail fast with ErrRequestInProgress
	ConflictQueue                        // wait for the slot, first in first out
)

func (p ConflictPolicy) String() string {
	if p == ConflictQueue {
		return "queue"
	}
	return "reject"
}

// ParseConflictPolicy parses "reject" or "queue"
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch s {
	case "", "reject":
		return ConflictReject, nil
	case "queue":
		return ConflictQueue, nil
	}
	return ConflictReject, fmt.Errorf("unknown conflict policy %q", s)
}

// State is the orchestrator's request slot state
type State int

const (
	StateIdle State = iota
	StatePending
)

func (s State) String() string {
	if s == StatePending {
		return "pending"
	}
	return "idle"
}

// OrchestratorConfig for creating an Orchestrator
type OrchestratorConfig struct {
	Registry    *Registry
	Requester   GrantRequester
	Logger      *slog.Logger
	Recorder    Recorder
	RequestCode int            // zero means DefaultRequestCode
	Timeout     time.Duration  // zero means DefaultRequestTimeout
	Conflict    ConflictPolicy // ConflictReject by default
}

// pendingRequest is one accepted batch. ids is aligned with the caller's names;
// forwarded holds the known subset in the same order.
type pendingRequest struct {
	ctx       context.Context
	future    *Future
	ids       []PlatformID
	forwarded []PlatformID
	timer     *time.Timer
}

// Orchestrator issues batched grant requests and correlates the platform's
// asynchronous answer back to the single in-flight request.
type Orchestrator struct {
	registry  *Registry
	requester GrantRequester
	log       *slog.Logger
	recorder  Recorder
	token     int
	timeout   time.Duration
	conflict  ConflictPolicy

	mu      sync.Mutex
	pending *pendingRequest // nil while idle
	queue   []*pendingRequest
	closed  bool
}

// NewOrchestrator creates an idle orchestrator
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		registry:  cfg.Registry,
		requester: cfg.Requester,
		log:       cfg.Logger,
		recorder:  cfg.Recorder,
		token:     cfg.RequestCode,
		timeout:   cfg.Timeout,
		conflict:  cfg.Conflict,
	}
	if o.registry == nil {
		o.registry = DefaultRegistry()
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.recorder == nil {
		o.recorder = nopRecorder{}
	}
	if o.token == 0 {
		o.token = DefaultRequestCode
	}
	if o.timeout <= 0 {
		o.timeout = DefaultRequestTimeout
	}
	return o
}

// RequestCode returns the correlation token sent to the platform
func (o *Orchestrator) RequestCode() int {
	return o.token
}

// State returns the current slot state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending != nil {
		return StatePending
	}
	return StateIdle
}

// Busy reports whether a request is in flight
func (o *Orchestrator) Busy() bool {
	return o.State() == StatePending
}

// Queued returns the number of requests waiting behind the pending one
func (o *Orchestrator) Queued() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Request asks the platform for names and returns without waiting for the answer.
// The returned Future resolves once the platform calls back, the request times
// out, or the orchestrator closes.
func (o *Orchestrator) Request(ctx context.Context, names []Name) (*Future, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := o.registry.ResolveAll(names)
	future := newFuture()

	if len(ids) == 0 {
		future.resolve([]Outcome{}, nil)
		o.recorder.RequestResolved("empty")
		return future, nil
	}

	forwarded := make([]PlatformID, 0, len(ids))
	for i, id := range ids {
		if id == Unknown {
			o.log.Warn("unknown permission in request", "permission", names[i], "request", future.ID())
			continue
		}
		forwarded = append(forwarded, id)
	}
	if len(forwarded) == 0 {
		future.resolve(allDenied(len(ids)), nil)
		o.recorder.RequestResolved("denied")
		return future, nil
	}

	req := &pendingRequest{
		ctx:       context.WithoutCancel(ctx),
		future:    future,
		ids:       ids,
		forwarded: forwarded,
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	if o.pending != nil {
		if o.conflict == ConflictQueue {
			o.queue = append(o.queue, req)
			position := len(o.queue)
			o.recorder.SetPending(o.inFlightLocked())
			o.mu.Unlock()
			o.log.Info("permission request queued", "request", future.ID(), "position", position)
			return future, nil
		}
		current := o.pending.future.ID()
		o.mu.Unlock()
		o.recorder.Conflict()
		o.log.Warn("permission request rejected", "request", future.ID(), "pending", current)
		return nil, fmt.Errorf("%w (pending request %s)", ErrRequestInProgress, current)
	}
	o.startLocked(req)
	o.mu.Unlock()

	if err := o.issue(req); err != nil {
		return nil, err
	}
	return future, nil
}

// startLocked occupies the slot with req and arms its timeout
func (o *Orchestrator) startLocked(req *pendingRequest) {
	o.pending = req
	req.timer = time.AfterFunc(o.timeout, func() { o.expire(req) })
	o.recorder.SetPending(o.inFlightLocked())
}

func (o *Orchestrator) inFlightLocked() int {
	n := len(o.queue)
	if o.pending != nil {
		n++
	}
	return n
}

// issue hands req to the platform. The platform may answer before this returns.
// A request that lost the slot after startLocked (closed or expired) is not sent.
func (o *Orchestrator) issue(req *pendingRequest) error {
	o.mu.Lock()
	live := o.pending == req && !o.closed
	o.mu.Unlock()
	if !live {
		o.log.Debug("permission request no longer pending, not sent", "request", req.future.ID())
		return nil
	}

	o.log.Info("requesting permissions", "request", req.future.ID(), "ids", req.forwarded, "request_code", o.token)
	err := o.requester.RequestGrants(req.ctx, slices.Clone(req.forwarded), o.token)
	if err == nil {
		return nil
	}

	err = fmt.Errorf("request grants: %w", err)
	o.log.Error("permission request failed", "request", req.future.ID(), "error", err)
	if o.release(req) {
		req.future.resolve(nil, err)
		o.recorder.RequestResolved("error")
		o.advance()
	}
	return err
}

// release frees the slot if req still holds it
func (o *Orchestrator) release(req *pendingRequest) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending != req {
		return false
	}
	o.pending = nil
	if req.timer != nil {
		req.timer.Stop()
	}
	o.recorder.SetPending(o.inFlightLocked())
	return true
}

// advance issues the next queued request once the slot is free
func (o *Orchestrator) advance() {
	o.mu.Lock()
	if o.closed || o.pending != nil || len(o.queue) == 0 {
		o.mu.Unlock()
		return
	}
	next := o.queue[0]
	o.queue = o.queue[1:]
	o.startLocked(next)
	o.mu.Unlock()

	// on failure issue resolves next and advances again
	_ = o.issue(next)
}

// OnRequestPermissionsResult is the platform's completion callback. Callbacks that
// do not match the pending request are ignored and reported as not consumed.
func (o *Orchestrator) OnRequestPermissionsResult(token int, ids []PlatformID, grants []bool) bool {
	o.mu.Lock()
	req := o.pending
	switch {
	case req == nil, token != o.token:
		o.mu.Unlock()
		o.recorder.StaleCallback()
		o.log.Debug("ignoring unmatched permission result", "request_code", token, "idle", req == nil)
		return false
	case len(ids) > 0 && !slices.Equal(ids, req.forwarded):
		o.mu.Unlock()
		o.recorder.StaleCallback()
		o.log.Debug("ignoring permission result for other ids", "request_code", token, "ids", ids)
		return false
	}
	o.pending = nil
	req.timer.Stop()
	o.recorder.SetPending(o.inFlightLocked())
	o.mu.Unlock()

	result := "completed"
	if len(grants) == 0 {
		result = "cancelled"
		o.log.Info("permission request cancelled", "request", req.future.ID())
	}
	outcomes := aggregate(req.ids, grants)
	req.future.resolve(outcomes, nil)
	o.recorder.RequestResolved(result)
	o.log.Info("permission request resolved", "request", req.future.ID(), "outcomes", outcomes)

	o.advance()
	return true
}

// aggregate maps grants, aligned with the known ids, back onto every requested
// position. Unknown ids, cancelled requests and missing answers are Denied.
func aggregate(ids []PlatformID, grants []bool) []Outcome {
	outcomes := allDenied(len(ids))
	k := 0
	for i, id := range ids {
		if id == Unknown {
			continue
		}
		if k < len(grants) && grants[k] {
			outcomes[i] = Granted
		}
		k++
	}
	return outcomes
}

func (o *Orchestrator) expire(req *pendingRequest) {
	if !o.release(req) {
		return
	}
	o.recorder.Timeout()
	o.recorder.RequestResolved("timeout")
	o.log.Warn("permission request timed out", "request", req.future.ID(), "timeout", o.timeout)
	req.future.resolve(nil, fmt.Errorf("%w within %s", ErrPlatformUnresponsive, o.timeout))
	o.advance()
}

// Close resolves pending and queued requests with ErrClosed and rejects new ones
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	abandoned := o.queue
	if o.pending != nil {
		o.pending.timer.Stop()
		abandoned = append([]*pendingRequest{o.pending}, abandoned...)
	}
	o.pending, o.queue = nil, nil
	o.recorder.SetPending(0)
	o.mu.Unlock()

	for _, req := range abandoned {
		if req.future.resolve(nil, ErrClosed) {
			o.recorder.RequestResolved("closed")
		}
	}
	return nil
}
