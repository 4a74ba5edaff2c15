package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

func newRegistryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "List known permission names and their platform identifiers",
		Args:  cobra.NoArgs,
		RunE:  runRegistryCmd,
	}
	cmd.Flags().String("match", "", "only list names matching a glob, e.g. 'READ_*'")
	return cmd
}

func runRegistryCmd(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	pattern, _ := cmd.Flags().GetString("match")
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("invalid --match pattern %q", pattern)
	}

	registry := a.Config.PermissionRegistry()
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPLATFORM ID")
	for _, name := range registry.Names() {
		if pattern != "" {
			if ok, _ := doublestar.Match(pattern, string(name)); !ok {
				continue
			}
		}
		fmt.Fprintf(tw, "%s\t%s\n", name, registry.Resolve(name))
	}
	return tw.Flush()
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", a.ConfigPath)
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(a.Config)
		},
	}
}
