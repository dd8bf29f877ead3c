package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	agent "sessioncast.io/agent"
	"sessioncast.io/agent/internal/appconfig"
	"sessioncast.io/agent/tmux"
)

func newRunCmd() *cobra.Command {
	var cfgPath string
	var noConnect bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}

			clientCfg := cfg.ClientConfig()
			clientCfg.Multiplexer = &tmux.Controller{
				Binary:  cfg.Tmux.Binary,
				Timeout: time.Duration(cfg.Tmux.CommandTimeoutSeconds) * time.Second,
				Logger:  logger,
			}
			client, err := agent.New(clientCfg, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			logger.Info("agent starting",
				"machine", cfg.Agent.MachineID,
				"relay", cfg.Relay.URL)

			if cfg.Agent.AutoConnect && !noConnect {
				if err := <-client.Connect(); err != nil {
					// Reconnect (when enabled) keeps trying in the
					// background; with reconnect disabled the failure
					// is final.
					if !cfg.Reconnect.Enabled {
						return fmt.Errorf("connect: %w", err)
					}
					logger.Warn("initial connect failed, retrying in background", "err", err)
				}
			}

			<-cmd.Context().Done()
			logger.Info("agent shutting down")
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to config.yaml")
	cmd.Flags().BoolVar(&noConnect, "no-connect", false, "start without connecting to the relay")
	return cmd
}
