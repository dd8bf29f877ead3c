package main

import (
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"sessioncast.io/agent/internal/appconfig"
	"sessioncast.io/agent/tmux"
)

func newDoctorCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run agent diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			logger.Info("doctor start")

			failures := 0

			binary, err := exec.LookPath(cfg.Tmux.Binary)
			if err != nil {
				logger.Error("tmux binary not found", "binary", cfg.Tmux.Binary)
				failures++
			} else {
				logger.Info("tmux binary ok", "path", binary)
				controller := &tmux.Controller{
					Binary:  cfg.Tmux.Binary,
					Timeout: time.Duration(cfg.Tmux.CommandTimeoutSeconds) * time.Second,
					Logger:  logger,
				}
				sessions, err := controller.ListSessions(cmd.Context())
				if err != nil {
					logger.Warn("tmux server not reachable", "err", err)
				} else {
					logger.Info("tmux server ok", "sessions", len(sessions))
				}
			}

			parsed, err := url.Parse(cfg.Relay.URL)
			if err != nil || parsed.Host == "" {
				logger.Error("relay url invalid", "url", cfg.Relay.URL)
				failures++
			} else {
				logger.Info("relay url ok", "url", cfg.Relay.URL)
			}

			if strings.TrimSpace(cfg.Relay.Token) == "" {
				logger.Warn("relay token not configured",
					"hint", "set relay.token or "+appconfig.TokenEnvVar)
			}
			if strings.TrimSpace(cfg.Agent.MachineID) == "" {
				logger.Warn("agent machine_id not configured")
			}

			if failures > 0 {
				return fmt.Errorf("doctor found %d problem(s)", failures)
			}
			logger.Info("doctor ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to config.yaml")
	return cmd
}
