package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/bootstrap"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file and environment overrides",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := bootstrap.LoadConfig(configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration is valid")
	fmt.Fprintf(out, "  Service: %s on :%d\n", cfg.Service.Name, cfg.HTTP.Port)
	fmt.Fprintf(out, "  Collaborators: %s\n", cfg.Collaborators.Mode)
	fmt.Fprintf(out, "  MySQL: %v\n", cfg.MySQL.DSN != "")
	fmt.Fprintf(out, "  Kafka: %v\n", cfg.Kafka.Brokers != "")
	fmt.Fprintf(out, "  Zookeeper lock: %v\n", len(cfg.Zookeeper.Servers) > 0)
	fmt.Fprintf(out, "  Nacos: %v\n", cfg.Nacos.Enabled)
	return nil
}
