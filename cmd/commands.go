package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/neverbot/internal/commands"
	"github.com/nextlevelbuilder/neverbot/internal/config"
	"github.com/nextlevelbuilder/neverbot/internal/resilience"
)

func commandsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commands",
		Short: "Inspect the slash commands the bot registers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List slash commands with their call profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := commands.Builtin(commands.Deps{})
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tADMIN\tTIMEOUT\tRETRIES\tDESCRIPTION")
			for _, c := range reg.List() {
				p := c.Profile
				if p == (resilience.Profile{}) {
					p = resilience.DefaultProfile()
				}
				fmt.Fprintf(tw, "/%s\t%v\t%s\t%d\t%s\n", c.Name, c.AdminOnly, p.Timeout, p.Retries, c.Description)
			}
			return tw.Flush()
		},
	})
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg.MaskedCopy())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check that the config is complete enough to start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cmd
}
