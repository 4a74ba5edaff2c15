package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Server answers JSON-RPC requests arriving on a Transport through a Dispatcher
type Server struct {
	transport  Transport
	dispatcher *Dispatcher
	log        *slog.Logger

	mu  sync.Mutex
	ctx context.Context
}

// NewServer creates a Server and starts accepting requests on transport
func NewServer(transport Transport, dispatcher *Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{transport: transport, dispatcher: dispatcher, log: logger, ctx: context.Background()}
	// off the read loop so a slow call or a blocked response write never stalls inbound reads
	transport.OnMethod(func(method string, params json.RawMessage, id *int) {
		go s.handle(s.baseContext(), method, params, id)
	})
	return s
}

func (s *Server) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Serve blocks until ctx ends or the peer disconnects. Calls made before
// Serve run with a background context.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.log.Info("serving permission channel")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.transport.Done():
		s.log.Info("permission channel peer disconnected")
		return nil
	}
}

func (s *Server) handle(ctx context.Context, method string, params json.RawMessage, id *int) {
	if id == nil {
		s.log.Debug("ignoring notification", "method", method)
		return
	}

	var args map[string]any
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &args); err != nil {
			s.respondError(id, &RPCError{Code: CodeInvalidParams, Message: "params must be an object: " + err.Error()})
			return
		}
	}

	s.dispatcher.HandleCall(ctx, method, args, &rpcResult{server: s, id: id, method: method})
}

func (s *Server) respondError(id *int, rpcErr *RPCError) {
	if err := s.transport.RespondError(id, rpcErr); err != nil {
		s.log.Error("write error response", "id", *id, "error", err)
	}
}

// rpcResult answers one JSON-RPC request id
type rpcResult struct {
	server *Server
	id     *int
	method string
}

func (r *rpcResult) Success(value any) {
	if err := r.server.transport.Respond(r.id, value); err != nil {
		r.server.log.Error("write response", "id", *r.id, "method", r.method, "error", err)
	}
}

func (r *rpcResult) Error(code, message string, details any) {
	r.server.respondError(r.id, &RPCError{
		Code:    CodeApplication,
		Message: message,
		Data:    &ChannelError{Code: code, Message: message, Details: details},
	})
}

func (r *rpcResult) NotImplemented() {
	r.server.respondError(r.id, &RPCError{Code: CodeMethodNotFound, Message: "method not implemented: " + r.method})
}
