package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ErrTransportClosed is returned by Send once the transport has shut down
var ErrTransportClosed = errors.New("connection closed")

// maxLine bounds a single JSON-RPC line
const maxLine = 1 << 20

// MethodHandler receives inbound requests and notifications. id is nil for notifications.
type MethodHandler func(method string, params json.RawMessage, id *int)

// Transport handles JSON-RPC communication
type Transport interface {
	// Send sends a request and blocks for the response
	Send(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification (no response expected)
	Notify(method string, params any) error

	// Respond answers an incoming request
	Respond(id *int, result any) error

	// RespondError answers an incoming request with an error
	RespondError(id *int, rpcErr *RPCError) error

	// OnMethod registers the handler for incoming methods
	OnMethod(handler MethodHandler)

	// Done is closed when the peer goes away or Close is called
	Done() <-chan struct{}

	// Close shuts down the transport
	Close() error
}

// StdioTransport implements Transport over newline-delimited stdin/stdout pipes
type StdioTransport struct {
	out       io.WriteCloser
	in        *bufio.Scanner
	log       *slog.Logger
	writeMu   sync.Mutex
	mu        sync.Mutex
	callbacks map[int]chan *Message
	msgID     int
	handler   MethodHandler
	done      chan struct{}
	closeOnce sync.Once
}

// NewStdioTransport creates a transport writing to out and reading from in
func NewStdioTransport(out io.WriteCloser, in io.Reader, logger *slog.Logger) *StdioTransport {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	t := &StdioTransport{
		out:       out,
		in:        scanner,
		log:       logger,
		callbacks: make(map[int]chan *Message),
		done:      make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *StdioTransport) readLoop() {
	defer t.shutdown()
	for t.in.Scan() {
		line := t.in.Bytes()
		if len(line) == 0 || line[0] != '{' {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			t.rejectMalformed(line, err)
			continue
		}

		// Method before ID: requests have both
		if msg.Method != "" {
			t.mu.Lock()
			handler := t.handler
			t.mu.Unlock()
			if handler != nil {
				handler(msg.Method, msg.Params, msg.ID)
			} else if msg.ID != nil {
				_ = t.RespondError(msg.ID, &RPCError{Code: CodeMethodNotFound, Message: "no handler for " + msg.Method})
			}
			continue
		}
		if msg.ID == nil {
			continue
		}
		t.mu.Lock()
		ch, ok := t.callbacks[*msg.ID]
		delete(t.callbacks, *msg.ID)
		t.mu.Unlock()
		if ok {
			ch <- &msg
		} else {
			t.log.Debug("response for unknown id", "id", *msg.ID)
		}
	}
	if err := t.in.Err(); err != nil {
		t.log.Warn("json-rpc read failed", "error", err)
	}
}

// rawReply is a response whose id is echoed verbatim, or null when unknown
type rawReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *RPCError       `json:"error"`
}

// rejectMalformed answers a line that does not decode as a Message. Unparseable
// JSON gets a parse error with a null id; a request whose id is not an integer
// gets an invalid request error echoing that id. Malformed responses are dropped.
func (t *StdioTransport) rejectMalformed(line []byte, err error) {
	var envelope struct {
		ID     json.RawMessage `json:"id"`
		Method json.RawMessage `json:"method"`
	}
	if json.Unmarshal(line, &envelope) != nil {
		t.log.Warn("unparseable json-rpc line", "error", err)
		t.writeRaw(rawReply{ID: json.RawMessage("null"), Error: &RPCError{Code: CodeParseError, Message: "Parse error"}})
		return
	}
	if len(envelope.Method) == 0 {
		t.log.Warn("dropping malformed json-rpc response", "error", err)
		return
	}
	if len(envelope.ID) == 0 {
		// a notification gets no answer, even an error
		t.log.Warn("dropping malformed json-rpc notification", "error", err)
		return
	}
	t.log.Warn("rejecting malformed json-rpc request", "id", string(envelope.ID), "error", err)
	t.writeRaw(rawReply{ID: envelope.ID, Error: &RPCError{Code: CodeInvalidRequest, Message: "Invalid Request", Data: err.Error()}})
}

func (t *StdioTransport) writeRaw(reply rawReply) {
	reply.JSONRPC = "2.0"
	data, err := json.Marshal(reply)
	if err != nil {
		t.log.Error("marshal json-rpc error reply", "error", err)
		return
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.out.Write(append(data, '\n')); err != nil {
		t.log.Debug("write json-rpc error reply", "error", err)
	}
}

func (t *StdioTransport) shutdown() {
	t.closeOnce.Do(func() {
		close(t.done)
	})
}

func (t *StdioTransport) write(msg Message) error {
	msg.JSONRPC = "2.0"
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.out.Write(append(data, '\n'))
	return err
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}

// Send sends a request and blocks for the response
func (t *StdioTransport) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("%s params: %w", method, err)
	}

	t.mu.Lock()
	t.msgID++
	id := t.msgID
	ch := make(chan *Message, 1)
	t.callbacks[id] = ch
	t.mu.Unlock()

	forget := func() {
		t.mu.Lock()
		delete(t.callbacks, id)
		t.mu.Unlock()
	}

	if err := t.write(Message{ID: &id, Method: method, Params: paramsJSON}); err != nil {
		forget()
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-t.done:
		forget()
		return nil, ErrTransportClosed
	}
}

// Notify sends a notification (no response expected)
func (t *StdioTransport) Notify(method string, params any) error {
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("%s params: %w", method, err)
	}
	return t.write(Message{Method: method, Params: paramsJSON})
}

// Respond answers an incoming request
func (t *StdioTransport) Respond(id *int, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return t.RespondError(id, &RPCError{Code: CodeInternalError, Message: err.Error()})
	}
	return t.write(Message{ID: id, Result: data})
}

// RespondError answers an incoming request with an error
func (t *StdioTransport) RespondError(id *int, rpcErr *RPCError) error {
	return t.write(Message{ID: id, Error: rpcErr})
}

// OnMethod registers a handler for incoming method calls
func (t *StdioTransport) OnMethod(handler MethodHandler) {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
}

// Done is closed once the read side ends or Close is called
func (t *StdioTransport) Done() <-chan struct{} {
	return t.done
}

// Close shuts down the transport
func (t *StdioTransport) Close() error {
	t.shutdown()
	return t.out.Close()
}
