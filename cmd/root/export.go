package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/contexhq/contex/pkg/cli"
	"github.com/contexhq/contex/pkg/client"
	"github.com/contexhq/contex/pkg/export"
)

type exportFlags struct {
	serverURL string
	output    string
	format    string
}

func newExportCmd() *cobra.Command {
	var flags exportFlags

	cmd := &cobra.Command{
		Use:   "export <project>",
		Short: "Export a project to a file",
		Long:  `Dump a project's items, retained events and agent registrations. With no output file the dump goes to stdout.`,
		Example: `  contex export my-app -o my-app.json
  contex export my-app --format toon`,
		Args: cobra.ExactArgs(1),
		RunE: flags.runExportCommand,
	}

	cmd.Flags().StringVarP(&flags.serverURL, "server", "s", client.DefaultBaseURL, "Base URL of the contex service")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "File to write the dump to (default: stdout)")
	cmd.Flags().StringVar(&flags.format, "format", "json", "Dump format: json or toon")

	return cmd
}

func (f *exportFlags) runExportCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cli.NewPrinter(cmd.OutOrStdout())
	projectID := args[0]

	format, err := export.ParseFormat(f.format)
	if err != nil {
		return err
	}

	raw, err := client.New(f.serverURL).Export(ctx, projectID, format)
	if err != nil {
		return err
	}

	if f.output == "" {
		_, err := cmd.OutOrStdout().Write(raw)
		return err
	}

	if err := export.WriteFile(f.output, raw); err != nil {
		return fmt.Errorf("writing %s: %w", f.output, err)
	}
	out.Successf("exported %s to %s (%d bytes)", projectID, f.output, len(raw))
	return nil
}
