// Package channel carries method calls from the application layer into the
// broker and their results back: the Result contract, the method table and a
// JSON-RPC stdio binding.
package channel

import (
	"errors"
	"fmt"
	"sync"
)

// Error codes reported through Result.Error
const (
	CodeInvalidArguments     = "invalid_arguments"
	CodeBusy                 = "busy"
	CodePlatformUnresponsive = "platform_unresponsive"
	CodePlatformError        = "platform_error"
	CodeUnavailable          = "unavailable"
	CodeInternal             = "internal_error"
)

// ErrNotImplemented is returned by Invoke for unrecognized methods
var ErrNotImplemented = errors.New("method not implemented")

// Result is the caller's suspended response. Exactly one method is called, once.
type Result interface {
	Success(value any)
	Error(code, message string, details any)
	NotImplemented()
}

// ChannelError is an error reported through Result.Error
type ChannelError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// once guards a Result against double resolution
type once struct {
	r    Result
	mu   sync.Mutex
	done bool
}

// Once wraps r so that only the first resolution reaches it
func Once(r Result) Result {
	if o, ok := r.(*once); ok {
		return o
	}
	return &once{r: r}
}

func (o *once) claim() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return false
	}
	o.done = true
	return true
}

func (o *once) Success(value any) {
	if o.claim() {
		o.r.Success(value)
	}
}

func (o *once) Error(code, message string, details any) {
	if o.claim() {
		o.r.Error(code, message, details)
	}
}

func (o *once) NotImplemented() {
	if o.claim() {
		o.r.NotImplemented()
	}
}

// reply is a Result delivering to a channel, used by Invoke
type reply struct {
	value any
	err   error
	done  chan struct{}
}

func newReply() *reply {
	return &reply{done: make(chan struct{})}
}

func (r *reply) Success(value any) {
	r.value = value
	close(r.done)
}

func (r *reply) Error(code, message string, details any) {
	r.err = &ChannelError{Code: code, Message: message, Details: details}
	close(r.done)
}

func (r *reply) NotImplemented() {
	r.err = ErrNotImplemented
	close(r.done)
}
