// Package commands implements the chainguard CLI with cobra.
package commands

import (
	"ChainGuard-Agent/internal/config"
	"ChainGuard-Agent/pkg/logger"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chainguard",
		Short: "Firewalled natural-language agent for EVM chains",
		Long: `chainguard turns natural-language instructions into on-chain operations.
Every instruction passes a prompt-injection firewall before it reaches the model.

Examples:
  chainguard serve
  chainguard exec "What is my balance?"
  chainguard exec --session alice "Send 1 S to 0x..."
  chainguard secret set openai_api_key`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newExecCmd(),
		newSecretCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the YAML config (default $"+config.EnvConfigPath+" or "+config.DefaultPath+")")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// loadConfig reads the configuration and initializes the global logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Logging.Level = "debug"
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}
