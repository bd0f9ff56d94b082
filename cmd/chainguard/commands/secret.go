package commands

import (
	"bufio"
	"fmt"
	"strings"

	"ChainGuard-Agent/internal/config"

	"github.com/spf13/cobra"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets stored in the OS keyring",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <private_key|openai_api_key|anthropic_api_key> [value]",
		Short: "Store a secret; the value is read from stdin when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := ""
			if len(args) == 2 {
				value = args[1]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read secret from stdin: %w", err)
				}
				value = strings.TrimSpace(line)
			}
			if err := config.StoreSecret(args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s in keyring service %q\n", args[0], config.KeyringService)
			return nil
		},
	})
	return cmd
}
