// Package root assembles the contex command tree.
package root

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/contexhq/contex/pkg/logging"
	"github.com/contexhq/contex/pkg/telemetry"
)

type rootFlags struct {
	enableOtel  bool
	debugMode   bool
	logFilePath string
	logFile     io.Closer
}

func NewRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "contex",
		Short: "contex - shared context for multi-agent projects",
		Long:  "contex runs a project-scoped context service: agents publish structured data,\nregister what they need in natural language, and get notified when matching data changes.",
		Example: `  contex serve
  contex publish notes.md --project my-app
  contex watch ./docs --project my-app`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging before anything else so every command logs the same way
			if err := flags.setupLogging(); err != nil {
				// If logging setup fails, fall back to stderr so we still get logs
				slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
					Level: func() slog.Level {
						if flags.debugMode {
							return slog.LevelDebug
						}
						return slog.LevelInfo
					}(),
				})))
			}

			if flags.enableOtel {
				if err := telemetry.Setup(cmd.Context(), ""); err != nil {
					slog.Warn("Failed to initialize OpenTelemetry SDK", "error", err)
				} else {
					slog.Debug("OpenTelemetry SDK initialized successfully")
				}
			}

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if flags.logFile != nil {
				if err := flags.logFile.Close(); err != nil {
					slog.Error("Failed to close log file", "error", err)
				}
			}
			return nil
		},
		// If no subcommand is specified, show help
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	// Add persistent debug flag available to all commands
	cmd.PersistentFlags().BoolVarP(&flags.debugMode, "debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&flags.enableOtel, "otel", false, "Enable OpenTelemetry tracing")
	cmd.PersistentFlags().StringVar(&flags.logFilePath, "log-file", "", "Write logs to a rotating file instead of stderr")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newPublishCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newImportCmd())

	return cmd
}

func Execute(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args ...string) error {
	rootCmd := NewRootCmd()
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)

	return rootCmd.ExecuteContext(ctx)
}

// setupLogging configures slog logging behavior. Logs go to stderr (text
// on a terminal, JSON otherwise) so a foreground serve stays readable;
// --log-file redirects them to a rotating file instead.
func (f *rootFlags) setupLogging() error {
	closer, err := logging.Setup(f.debugMode, f.logFilePath)
	if err != nil {
		return err
	}
	f.logFile = closer
	return nil
}
