package commands

import (
	"fmt"
	"strings"

	"ChainGuard-Agent/internal/agent"
	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/firewall"
	"ChainGuard-Agent/pkg/logger"

	"github.com/spf13/cobra"
)

func newExecCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "exec [instruction]",
		Short: "Run one instruction through the firewall and the agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			rt, err := buildRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			var opts []agent.ExecuteOption
			if sessionID != "" {
				opts = append(opts, agent.WithSession(sessionID))
			}
			reply, err := rt.agent.Execute(ctx, strings.Join(args, " "), opts...)
			if err != nil {
				if xerrors.CodeOf(err) == xerrors.CodeFirewallBlocked {
					return fmt.Errorf("instruction blocked (%s): %w", firewall.Reason(err), err)
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id for conversation memory (default: a fresh session)")
	return cmd
}
