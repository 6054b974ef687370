package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long: `Inspect reflector configuration. Values come from the config file, with
any explicitly set command-line flags applied on top.`,
		Example: `  reflector config show
  reflector config show --config /etc/reflector/reflector.yaml`,
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration in YAML format. The output can be
saved as a config file.`,
		Example: `  reflector config show
  reflector config show --cache-file /tmp/mirrorstatus.json`,
		Args: cobra.NoArgs,
		RunE: configShowRun,
	}

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	log.Debug("showing configuration", "path", cfgPath)

	data, err := yaml.Marshal(globalCfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	_, err = cmd.OutOrStdout().Write(data)
	return err
}
