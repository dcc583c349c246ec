package root

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/contexhq/contex/pkg/broker"
	"github.com/contexhq/contex/pkg/cli"
	"github.com/contexhq/contex/pkg/config"
	"github.com/contexhq/contex/pkg/embedding"
	"github.com/contexhq/contex/pkg/engine"
	"github.com/contexhq/contex/pkg/health"
	"github.com/contexhq/contex/pkg/server"
	"github.com/contexhq/contex/pkg/store"
	"github.com/contexhq/contex/pkg/telemetry"
)

type serveFlags struct {
	listenAddr string
	configPath string
	sqlitePath string
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the context service",
		Long:  `Start the HTTP server that agents publish to, register with and query`,
		Args:  cobra.NoArgs,
		RunE:  flags.runServeCommand,
	}

	cmd.Flags().StringVarP(&flags.listenAddr, "listen", "l", "", "Address to listen on (overrides the config file)")
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", config.DefaultPath, "Path to the configuration file")
	cmd.Flags().StringVar(&flags.sqlitePath, "sqlite", "", "Path to the sqlite state file (overrides the config file)")

	return cmd
}

func (f *serveFlags) runServeCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cli.NewPrinter(cmd.OutOrStdout())

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	for _, warning := range cfg.Validate() {
		slog.Warn("Configuration warning", "warning", warning)
	}
	if f.listenAddr != "" {
		cfg.Server.Addr = f.listenAddr
	}
	if f.sqlitePath != "" {
		cfg.Storage.Path = f.sqlitePath
	}

	if endpoint := cmp.Or(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), cfg.Telemetry.Endpoint); endpoint != "" {
		if err := telemetry.Setup(ctx, endpoint); err != nil {
			slog.Warn("Failed to initialize OpenTelemetry SDK", "error", err)
		}
	}

	embedder, err := buildEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return err
	}

	opts := []engine.Option{
		engine.WithThreshold(cfg.Matching.Threshold),
		engine.WithMaxMatches(cfg.Matching.MaxMatches),
		engine.WithRingCapacity(cfg.Delivery.RingSize),
		engine.WithQueueSize(cfg.Delivery.QueueSize),
		engine.WithTracer(telemetry.Tracer()),
	}
	if cfg.Matching.Hybrid {
		opts = append(opts, engine.WithHybridSearch(cfg.Matching.BM25Weight, cfg.Matching.KNNWeight))
	}

	// The service keeps answering reads when the broker is down, so its
	// probe only degrades the report; a dead embedder fails publishes and
	// queries alike and is fatal for readiness.
	probes := []health.Probe{{
		Name:     "embedding",
		Critical: true,
		Check: func(ctx context.Context) error {
			_, err := embedder.EmbedOne(ctx, "ping")
			return err
		},
	}}

	if cfg.Redis.URL != "" {
		b, err := broker.NewRedis(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer b.Close()
		opts = append(opts, engine.WithBroker(b))
		probes = append(probes, health.Probe{Name: "redis", Check: b.Ping})
	}

	if cfg.Storage.Path != "" {
		st, err := store.NewSQLite(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("opening state store: %w", err)
		}
		defer st.Close()
		opts = append(opts, engine.WithStore(st))
	}

	eng := engine.New(embedder, opts...)
	defer eng.Close()

	if err := eng.Load(ctx); err != nil {
		return fmt.Errorf("restoring persisted state: %w", err)
	}
	stats := eng.Stats()
	slog.Info("Engine ready", "projects", stats.Projects, "items", stats.Items, "agents", stats.Agents)

	ln, err := server.Listen(ctx, cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	out.Println("Listening on " + ln.Addr().String())

	s := server.New(eng, server.WithChecker(health.NewChecker(probes)))
	return s.Serve(ctx, ln)
}

// buildEmbedder assembles the provider chain: raw provider, then the
// batching client, then the cache the engine embeds through.
func buildEmbedder(ctx context.Context, cfg config.Embedding) (engine.Embedder, error) {
	var (
		provider embedding.Provider
		err      error
	)
	switch cfg.Provider {
	case "", "local":
		provider = embedding.NewLocal()
	case "openai":
		provider, err = embedding.NewOpenAI(os.Getenv("OPENAI_API_KEY"), cfg.BaseURL, cfg.Model)
	case "gemini":
		provider, err = embedding.NewGemini(ctx, os.Getenv("GEMINI_API_KEY"), cfg.Model)
	default:
		err = fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return embedding.NewCache(embedding.NewClient(provider, embedding.WithTimeout(cfg.Timeout))), nil
}
