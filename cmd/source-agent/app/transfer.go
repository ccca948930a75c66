package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	agent "github.com/headerkit/source-agent/internal/app"
)

func newExportCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the portable form of every source to a file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := cmd.Flags().GetString("out")
			if err != nil {
				return err
			}
			return withOfflineAgent(cmd.Context(), v, func(ctx context.Context, a *agent.SourceAgent) error {
				count, err := a.Registry().Export(ctx, out)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Exported %d sources to %s\n", count, out)
				return err
			})
		},
	}
	cmd.Flags().String("out", "", "Destination file (required)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newImportCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create the sources described in an export file",
		Long: `Create the sources described in an export file. Sources that already exist
are matched rather than duplicated, and invalid entries are skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, err := cmd.Flags().GetString("file")
			if err != nil {
				return err
			}
			return withOfflineAgent(cmd.Context(), v, func(ctx context.Context, a *agent.SourceAgent) error {
				imported, err := a.Registry().Import(ctx, file)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d sources from %s\n", len(imported), file)
				return err
			})
		},
	}
	cmd.Flags().String("file", "", "Export file to read (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// withOfflineAgent runs fn against an agent that loads the persisted list
// but binds no listeners
func withOfflineAgent(ctx context.Context, v *viper.Viper, fn func(context.Context, *agent.SourceAgent) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}

	a, err := agent.NewSourceAgent(ctx, agent.WithConfig(cfg), agent.WithOffline())
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	return fn(ctx, a)
}
