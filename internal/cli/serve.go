package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"permbridge/channel"
	"permbridge/internal/broker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the permission channel as JSON-RPC over stdio",
		Long: `Serve the permission channel as newline-delimited JSON-RPC 2.0 over stdin/stdout.

Methods: checkPermission, checkPermissions, requestPermission, requestPermissions,
openSettings, getPlatformVersion. Logs go to stderr. The console platform prompts
on the controlling terminal since stdio carries the protocol.`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := broker.New(ctx, a.Config, broker.Options{Logger: a.Logger})
	if err != nil {
		return err
	}
	defer b.Close()

	transport := channel.NewStdioTransport(stdout(cmd), cmd.InOrStdin(), a.Logger)
	defer transport.Close()

	server := channel.NewServer(transport, b.Dispatcher, a.Logger)
	if err := server.Serve(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
