package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"permbridge/internal/broker"
	"permbridge/mcpserver"
)

const shutdownTimeout = 5 * time.Second

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Expose the permission methods as MCP tools",
		Long: `Expose the permission methods as Model Context Protocol tools.

By default the tools are served over SSE on [mcp] bind, together with
Prometheus metrics at /metrics. With --stdio the MCP session runs on
stdin/stdout instead.`,
		Args: cobra.NoArgs,
		RunE: runMCPCmd,
	}

	cmd.Flags().String("bind", "", "listen address (overrides config)")
	cmd.Flags().Bool("stdio", false, "serve MCP over stdio instead of SSE")

	return cmd
}

func runMCPCmd(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	bindOverride, _ := cmd.Flags().GetString("bind")
	stdio, _ := cmd.Flags().GetBool("stdio")

	bind := a.Config.MCP.Bind
	if bindOverride != "" {
		bind = bindOverride
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := broker.New(ctx, a.Config, broker.Options{Logger: a.Logger})
	if err != nil {
		return err
	}
	defer b.Close()

	mcpServer := mcpserver.New(mcpserver.Config{
		Dispatcher: b.Dispatcher,
		Registry:   b.Registry,
		Gatherer:   b.Gatherer,
		Version:    version,
		BaseURL:    a.Config.MCP.BaseURL,
		Logger:     a.Logger,
	})

	if stdio {
		return server.ServeStdio(mcpServer.MCPServer())
	}

	sseURL, err := mcpServer.Start(bind)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), sseURL)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return mcpServer.Stop(shutdownCtx)
}
