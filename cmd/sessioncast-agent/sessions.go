package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"sessioncast.io/agent/internal/appconfig"
	"sessioncast.io/agent/tmux"
)

func newSessionsCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List local tmux sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			controller := &tmux.Controller{
				Binary:  cfg.Tmux.Binary,
				Timeout: time.Duration(cfg.Tmux.CommandTimeoutSeconds) * time.Second,
				Logger:  pslog.Ctx(cmd.Context()),
			}
			sessions, err := controller.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return err
			}
			for _, session := range sessions {
				attached := ""
				if session.Attached {
					attached = " (attached)"
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d windows%s\n",
					session.Name, session.Windows, attached); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to config.yaml")
	return cmd
}
