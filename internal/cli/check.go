package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"permbridge/channel"
	"permbridge/internal/broker"
	"permbridge/permission"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check PERMISSION...",
		Short: "Show the current state of permissions without prompting",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPermissionsCmd(cmd, channel.MethodCheckPermissions, args)
		},
	}
	cmd.Flags().Bool("json", false, "print codes as JSON")
	return cmd
}

func newRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request PERMISSION...",
		Short: "Ask for permissions and wait for the answer",
		Long: `Ask for permissions and wait for the answer.

With the console platform the prompts are read from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPermissionsCmd(cmd, channel.MethodRequestPermissions, args)
		},
	}
	cmd.Flags().Bool("json", false, "print codes as JSON")
	return cmd
}

func runPermissionsCmd(cmd *cobra.Command, method string, names []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	b, err := broker.New(cmd.Context(), a.Config, broker.Options{
		Logger:    a.Logger,
		PromptIn:  cmd.InOrStdin(),
		PromptOut: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer b.Close()

	codes, err := invokeCodes(cmd.Context(), b, method, names)
	if err != nil {
		return err
	}

	if asJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(codes)
	}
	return printOutcomes(cmd.OutOrStdout(), b.Registry, names, codes)
}

func invokeCodes(ctx context.Context, b *broker.Broker, method string, names []string) ([]int, error) {
	value, err := channel.Invoke(ctx, b.Dispatcher, method, map[string]any{"permissions": names})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	codes, ok := value.([]int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result %T", method, value)
	}
	return codes, nil
}

func printOutcomes(w io.Writer, registry *permission.Registry, names []string, codes []int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PERMISSION\tPLATFORM ID\tOUTCOME")
	for i, code := range codes {
		outcome, err := permission.ParseOutcome(code)
		if err != nil {
			return err
		}
		id := string(registry.Resolve(permission.Name(names[i])))
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", names[i], id, outcome)
	}
	return tw.Flush()
}
