package permission

import "context"

// GrantChecker answers synchronous grant-state questions about one identifier
type GrantChecker interface {
	IsGranted(ctx context.Context, id PlatformID) (bool, error)
	ShouldShowRationale(ctx context.Context, id PlatformID) (bool, error)
}

// GrantRequester starts an asynchronous grant request. The platform answers later
// through a ResultListener carrying the same token.
type GrantRequester interface {
	RequestGrants(ctx context.Context, ids []PlatformID, token int) error
}

// ResultListener receives the platform's answer to a grant request.
// It reports whether the callback was consumed.
type ResultListener interface {
	OnRequestPermissionsResult(token int, ids []PlatformID, grants []bool) bool
}

// Recorder observes orchestrator and query activity (see package metrics)
type Recorder interface {
	RequestResolved(result string)
	Conflict()
	StaleCallback()
	Timeout()
	SetPending(n int)
	Checked(n int)
}

type nopRecorder struct{}

func (nopRecorder) RequestResolved(string) {}
func (nopRecorder) Conflict()              {}
func (nopRecorder) StaleCallback()         {}
func (nopRecorder) Timeout()               {}
func (nopRecorder) SetPending(int)         {}
func (nopRecorder) Checked(int)            {}
