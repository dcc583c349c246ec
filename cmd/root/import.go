package root

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/contexhq/contex/pkg/cli"
	"github.com/contexhq/contex/pkg/client"
)

type importFlags struct {
	serverURL    string
	validateOnly bool
}

func newImportCmd() *cobra.Command {
	var flags importFlags

	cmd := &cobra.Command{
		Use:   "import <project> <file>",
		Short: "Import a project dump",
		Long:  `Replay an exported dump into a project. Items go through the regular publish path, so they are re-embedded and matched against registered agents.`,
		Example: `  contex import my-app my-app.json
  contex import my-app my-app.json --validate-only`,
		Args: cobra.ExactArgs(2),
		RunE: flags.runImportCommand,
	}

	cmd.Flags().StringVarP(&flags.serverURL, "server", "s", client.DefaultBaseURL, "Base URL of the contex service")
	cmd.Flags().BoolVar(&flags.validateOnly, "validate-only", false, "Validate the dump without writing anything")

	return cmd
}

func (f *importFlags) runImportCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cli.NewPrinter(cmd.OutOrStdout())
	projectID, path := args[0], args[1]

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	res, err := client.New(f.serverURL).Import(ctx, projectID, raw, f.validateOnly)
	if err != nil {
		if res != nil {
			for _, problem := range res.Validation.Errors {
				out.Warnf("%s", problem)
			}
		}
		return err
	}

	for _, warning := range res.Validation.Warnings {
		out.Warnf("%s", warning)
	}
	for _, skipped := range res.Skipped {
		out.Warnf("skipped %s", skipped)
	}

	if f.validateOnly {
		out.Successf("%s is a valid dump for %s", path, res.ProjectID)
		return nil
	}
	out.Successf("imported %d items and %d agents into %s", res.Items, res.Agents, res.ProjectID)
	return nil
}
