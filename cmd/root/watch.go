package root

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/contexhq/contex/pkg/cli"
	"github.com/contexhq/contex/pkg/client"
	"github.com/contexhq/contex/pkg/engine"
	"github.com/contexhq/contex/pkg/watch"
)

type watchFlags struct {
	serverURL string
	projectID string
	include   []string
	exclude   []string
	debounce  time.Duration
}

func newWatchCmd() *cobra.Command {
	var flags watchFlags

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Watch a directory and publish changed files",
		Long:  `Publish every matching file under a directory, then keep re-publishing files as they change. The data key is the path relative to the watched root.`,
		Example: `  contex watch ./docs --project my-app
  contex watch . --project my-app --include '**/*.md' --exclude 'drafts/**'`,
		Args: cobra.ExactArgs(1),
		RunE: flags.runWatchCommand,
	}

	cmd.Flags().StringVarP(&flags.serverURL, "server", "s", client.DefaultBaseURL, "Base URL of the contex service")
	cmd.Flags().StringVarP(&flags.projectID, "project", "p", "", "Project to publish into")
	cmd.Flags().StringSliceVar(&flags.include, "include", nil, "Glob patterns to publish (default: known formats)")
	cmd.Flags().StringSliceVar(&flags.exclude, "exclude", nil, "Glob patterns to skip")
	cmd.Flags().DurationVar(&flags.debounce, "debounce", watch.DefaultDebounce, "How long to batch change events before publishing")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func (f *watchFlags) runWatchCommand(cmd *cobra.Command, args []string) error {
	out := cli.NewPrinter(cmd.OutOrStdout())

	w, err := watch.New(client.New(f.serverURL), f.projectID, args[0],
		watch.WithInclude(f.include...),
		watch.WithExclude(f.exclude...),
		watch.WithDebounce(f.debounce),
		watch.WithOnResult(func(dataKey string, res *engine.PublishResult, err error) {
			if err != nil {
				out.Warnf("%s: %v", dataKey, err)
				return
			}
			out.Successf("published %s (sequence %d)", dataKey, res.Sequence)
		}),
	)
	if err != nil {
		return err
	}

	return w.Run(cmd.Context())
}
