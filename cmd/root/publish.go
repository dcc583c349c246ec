package root

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/contexhq/contex/pkg/cli"
	"github.com/contexhq/contex/pkg/client"
	"github.com/contexhq/contex/pkg/engine"
	"github.com/contexhq/contex/pkg/parser"
)

type publishFlags struct {
	serverURL string
	projectID string
	dataKey   string
	format    string
}

func newPublishCmd() *cobra.Command {
	var flags publishFlags

	cmd := &cobra.Command{
		Use:   "publish <file>",
		Short: "Publish a file to a project",
		Long:  `Read a file and publish its contents to a running contex service`,
		Example: `  contex publish architecture.md --project my-app
  contex publish deploy.yaml --project my-app --key deployment_config`,
		Args: cobra.ExactArgs(1),
		RunE: flags.runPublishCommand,
	}

	cmd.Flags().StringVarP(&flags.serverURL, "server", "s", client.DefaultBaseURL, "Base URL of the contex service")
	cmd.Flags().StringVarP(&flags.projectID, "project", "p", "", "Project to publish into")
	cmd.Flags().StringVarP(&flags.dataKey, "key", "k", "", "Data key (default: the file name)")
	cmd.Flags().StringVar(&flags.format, "format", "", "Format hint, e.g. json or markdown (default: by file extension)")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func (f *publishFlags) runPublishCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cli.NewPrinter(cmd.OutOrStdout())
	path := args[0]

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	key := f.dataKey
	if key == "" {
		key = filepath.Base(path)
	}
	format := f.format
	if format == "" {
		format = parser.HintForPath(path)
	}

	c := client.New(f.serverURL)
	res, err := c.Publish(ctx, engine.PublishRequest{
		ProjectID: f.projectID,
		DataKey:   key,
		Data:      string(raw),
		Format:    format,
	})
	if err != nil {
		return err
	}

	out.Successf("published %s as %s (sequence %d)", path, res.DataKey, res.Sequence)
	return nil
}
