package permission

import (
	"context"
	"fmt"
	"log/slog"
)

// QueryService reports the current state of permissions without side effects
type QueryService struct {
	registry *Registry
	checker  GrantChecker
	log      *slog.Logger
	recorder Recorder
}

// QueryOption configures a QueryService
type QueryOption func(*QueryService)

// WithQueryLogger sets the logger
func WithQueryLogger(log *slog.Logger) QueryOption {
	return func(q *QueryService) {
		if log != nil {
			q.log = log
		}
	}
}

// WithQueryRecorder sets the metrics recorder
func WithQueryRecorder(rec Recorder) QueryOption {
	return func(q *QueryService) {
		if rec != nil {
			q.recorder = rec
		}
	}
}

// NewQueryService creates a query service backed by checker
func NewQueryService(registry *Registry, checker GrantChecker, opts ...QueryOption) *QueryService {
	q := &QueryService{
		registry: registry,
		checker:  checker,
		log:      slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Check returns one outcome per name, in input order
func (q *QueryService) Check(ctx context.Context, names []Name) ([]Outcome, error) {
	outcomes := make([]Outcome, len(names))
	for i, name := range names {
		outcome, err := q.outcome(ctx, name)
		if err != nil {
			return nil, err
		}
		outcomes[i] = outcome
	}
	q.recorder.Checked(len(names))
	return outcomes, nil
}

// CheckOne is Check for a single name
func (q *QueryService) CheckOne(ctx context.Context, name Name) (Outcome, error) {
	outcomes, err := q.Check(ctx, []Name{name})
	if err != nil {
		return Denied, err
	}
	return outcomes[0], nil
}

func (q *QueryService) outcome(ctx context.Context, name Name) (Outcome, error) {
	id := q.registry.Resolve(name)
	if id == Unknown {
		q.log.Debug("unknown permission", "permission", name)
		return Denied, nil
	}

	q.log.Debug("checking permission", "permission", name, "id", id)
	granted, err := q.checker.IsGranted(ctx, id)
	if err != nil {
		return Denied, fmt.Errorf("check %s: %w", name, err)
	}
	if granted {
		return Granted, nil
	}

	rationale, err := q.checker.ShouldShowRationale(ctx, id)
	if err != nil {
		return Denied, fmt.Errorf("rationale %s: %w", name, err)
	}
	if rationale {
		return ShowRationale, nil
	}
	return Denied, nil
}
