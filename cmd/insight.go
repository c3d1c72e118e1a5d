package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/neverbot/internal/config"
	"github.com/nextlevelbuilder/neverbot/internal/insight"
)

func insightCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insight",
		Short: "Personality summary maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Regenerate personality summaries for recently active users now",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Provider.APIKey == "" {
				return fmt.Errorf("provider api key is required")
			}
			stores, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer stores.Close()

			updater := insight.NewUpdater(stores.Users, newGenerator(cfg, nil), cfg.Insight.ToUpdaterConfig())
			res, err := updater.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("updated %d, skipped %d, failed %d\n", res.Updated, res.Skipped, res.Failed)
			return nil
		},
	})
	return cmd
}
