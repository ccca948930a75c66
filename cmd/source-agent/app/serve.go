package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	agent "github.com/headerkit/source-agent/internal/app"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the source agent",
		Long: `Run the source agent: load the persisted sources, re-arm their watches and
schedules, and serve the WebSocket channel and the local control API until
interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	cmd.Flags().String("control-address", "", "Control API address (default 127.0.0.1:59211)")
	if err := v.BindPFlag("control-address", cmd.Flags().Lookup("control-address")); err != nil {
		slog.Error("Error binding flag", "flag", "control-address", "error", err)
	}
	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}

	opts := []agent.AgentOption{agent.WithConfig(cfg)}
	if addr := v.GetString("control-address"); addr != "" {
		opts = append(opts, agent.WithControlAddress(addr))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := agent.NewSourceAgent(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to start source agent: %w", err)
	}

	slog.Info("Starting source agent", "data_dir", cfg.DataDir, "sources_file", cfg.SourcesPath())
	return a.Run(ctx)
}
