// Package cli implements the Cobra command tree for the permbridge CLI.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"permbridge/config"
)

// version is set at build time with -ldflags "-X permbridge/internal/cli.version=..."
var version = "dev"

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "permbridge",
		Short:         "Broker runtime permission requests between apps and the platform",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file")
	rootCmd.PersistentFlags().String("platform", "", "platform backend: memory, native or console (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error (overrides config)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMCPCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newRequestCmd())
	rootCmd.AddCommand(newRegistryCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

type App struct {
	Config     config.Config
	ConfigPath string
	Logger     *slog.Logger
}

func newApp(cmd *cobra.Command) (*App, error) {
	configPath, _ := cmd.Flags().GetString("config")
	platformOverride, _ := cmd.Flags().GetString("platform")
	levelOverride, _ := cmd.Flags().GetString("log-level")

	if configPath == "" {
		configPath = config.DefaultPath()
	}
	cfg, err := config.LoadOrCreate(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if platformOverride != "" {
		cfg.Platform.Kind = platformOverride
	}
	if levelOverride != "" {
		cfg.Log.Level = levelOverride
	}
	if platformOverride != "" || levelOverride != "" {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger := cfg.Logger()
	slog.SetDefault(logger)

	return &App{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     logger,
	}, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// stdout returns the command's output as a WriteCloser; closing os.Stdout is left to the process
func stdout(cmd *cobra.Command) io.WriteCloser {
	out := cmd.OutOrStdout()
	if wc, ok := out.(io.WriteCloser); ok && out != os.Stdout {
		return wc
	}
	return nopWriteCloser{out}
}
