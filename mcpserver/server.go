// Package mcpserver exposes the permission channel as Model Context Protocol tools
// over SSE, alongside a Prometheus /metrics endpoint.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"

	"permbridge/channel"
	"permbridge/metrics"
	"permbridge/permission"
)

// Tool names
const (
	ToolCheckPermissions   = "check_permissions"
	ToolRequestPermissions = "request_permissions"
	ToolListPermissions    = "list_permissions"
	ToolOpenSettings       = "open_settings"
	ToolPlatformVersion    = "get_platform_version"
)

// Config for creating a Server
type Config struct {
	Dispatcher *channel.Dispatcher
	Registry   *permission.Registry
	Gatherer   prometheus.Gatherer // nil serves the default registry
	Version    string
	// BaseURL is the externally reachable origin advertised to SSE clients.
	// Empty derives it from the listener.
	BaseURL string
	Logger  *slog.Logger
}

// Server wraps an MCP server exposing the permission methods as tools
type Server struct {
	mcpServer  *server.MCPServer
	dispatcher *channel.Dispatcher
	registry   *permission.Registry
	gatherer   prometheus.Gatherer
	baseURL    string
	log        *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// PermissionStatus is one entry of a tool result
type PermissionStatus struct {
	Permission string `json:"permission"`
	Outcome    string `json:"outcome"`
	Code       int    `json:"code"`
}

// New creates the MCP server and registers its tools
func New(cfg Config) *Server {
	s := &Server{
		dispatcher: cfg.Dispatcher,
		registry:   cfg.Registry,
		gatherer:   cfg.Gatherer,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		log:        cfg.Logger,
	}
	if s.registry == nil {
		s.registry = permission.DefaultRegistry()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "1.0.0"
	}

	s.mcpServer = server.NewMCPServer(
		"permbridge",
		version,
		server.WithToolCapabilities(false),
	)

	s.mcpServer.AddTool(mcp.NewTool(ToolCheckPermissions,
		mcp.WithDescription(`Check the current state of runtime permissions without prompting the user.

Args:
  - permissions (array of string, required): symbolic names such as CAMERA or RECORD_AUDIO

Returns: a JSON array with one {permission, outcome, code} entry per name, in order.
outcome is granted, denied or show_rationale. Unknown names are denied.`),
		mcp.WithArray("permissions",
			mcp.Required(),
			mcp.Description("Symbolic permission names"),
		),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{
			Title:           "Check Permissions",
			ReadOnlyHint:    boolPtr(true),
			DestructiveHint: boolPtr(false),
			IdempotentHint:  boolPtr(true),
			OpenWorldHint:   boolPtr(false),
		}),
	), s.handleCheck)

	s.mcpServer.AddTool(mcp.NewTool(ToolRequestPermissions,
		mcp.WithDescription(`Ask the user to grant runtime permissions and wait for the answer.

Only one request can be pending at a time; a second one fails with "busy".

Args:
  - permissions (array of string, required): symbolic names such as CAMERA or RECORD_AUDIO

Returns: a JSON array with one {permission, outcome, code} entry per name, in order.
outcome is granted or denied. A dismissed request denies everything.`),
		mcp.WithArray("permissions",
			mcp.Required(),
			mcp.Description("Symbolic permission names"),
		),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{
			Title:           "Request Permissions",
			ReadOnlyHint:    boolPtr(false),
			DestructiveHint: boolPtr(false),
			IdempotentHint:  boolPtr(false),
			OpenWorldHint:   boolPtr(true),
		}),
	), s.handleRequest)

	s.mcpServer.AddTool(mcp.NewTool(ToolListPermissions,
		mcp.WithDescription("List the symbolic permission names this broker understands and their platform identifiers."),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{
			Title:        "List Permissions",
			ReadOnlyHint: boolPtr(true),
		}),
	), s.handleList)

	s.mcpServer.AddTool(mcp.NewTool(ToolOpenSettings,
		mcp.WithDescription("Open the operating system's settings screen for this app, where the user can change permissions."),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{
			Title:         "Open Settings",
			ReadOnlyHint:  boolPtr(false),
			OpenWorldHint: boolPtr(true),
		}),
	), s.handleOpenSettings)

	s.mcpServer.AddTool(mcp.NewTool(ToolPlatformVersion,
		mcp.WithDescription("Report the platform name and version, e.g. \"Android 14\"."),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{
			Title:        "Platform Version",
			ReadOnlyHint: boolPtr(true),
		}),
	), s.handleVersion)

	return s
}

func boolPtr(b bool) *bool {
	return &b
}

// MCPServer returns the underlying MCP server, e.g. for stdio serving
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) handleCheck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.permissionsCall(ctx, req, channel.MethodCheckPermissions)
}

func (s *Server) handleRequest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.permissionsCall(ctx, req, channel.MethodRequestPermissions)
}

func (s *Server) permissionsCall(ctx context.Context, req mcp.CallToolRequest, method string) (*mcp.CallToolResult, error) {
	names, err := stringList(req.Params.Arguments["permissions"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	value, err := channel.Invoke(ctx, s.dispatcher, method, map[string]any{"permissions": names})
	if err != nil {
		return toolError(err), nil
	}
	codes, ok := value.([]int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", method, value)
	}

	statuses := make([]PermissionStatus, len(codes))
	for i, code := range codes {
		outcome, err := permission.ParseOutcome(code)
		if err != nil {
			return nil, err
		}
		statuses[i] = PermissionStatus{Permission: names[i], Outcome: outcome.String(), Code: code}
	}
	return jsonResult(statuses)
}

func (s *Server) handleList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names := s.registry.Names()
	entries := make([]map[string]string, len(names))
	for i, name := range names {
		entries[i] = map[string]string{"permission": string(name), "id": string(s.registry.Resolve(name))}
	}
	return jsonResult(entries)
}

func (s *Server) handleOpenSettings(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := channel.Invoke(ctx, s.dispatcher, channel.MethodOpenSettings, nil); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("settings opened"), nil
}

func (s *Server) handleVersion(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	value, err := channel.Invoke(ctx, s.dispatcher, channel.MethodPlatformVersion, nil)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprint(value)), nil
}

func stringList(v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("permissions must be strings, got %T", item)
			}
			out = append(out, strings.TrimSpace(s))
		}
		return out, nil
	case nil:
		return nil, errors.New("permissions is required")
	}
	return nil, fmt.Errorf("permissions must be an array, got %T", v)
}

func toolError(err error) *mcp.CallToolResult {
	var chErr *channel.ChannelError
	if errors.As(err, &chErr) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", chErr.Code, chErr.Message))
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

// Start listens on bind and returns the SSE endpoint URL. /metrics is served
// on the same listener.
func (s *Server) Start(bind string) (string, error) {
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}
	s.listener = listener

	baseURL := s.baseURL
	if baseURL == "" {
		addr := listener.Addr().(*net.TCPAddr)
		host := addr.IP.String()
		if addr.IP.IsUnspecified() {
			host = "127.0.0.1"
		}
		baseURL = fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprint(addr.Port)))
	}

	// default endpoints are /sse and /message
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer)
	mux.Handle("/message", sseServer)
	mux.Handle("/metrics", metrics.Handler(s.gatherer))

	s.httpServer = &http.Server{Handler: mux}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("mcp server failed", "error", err)
		}
	}()

	s.log.Info("mcp server listening", "sse", baseURL+"/sse", "metrics", baseURL+"/metrics")
	return baseURL + "/sse", nil
}

// Addr returns the listening address once started
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
