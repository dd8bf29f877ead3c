package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"sessioncast.io/agent/internal/appconfig"
)

func newPairCmd() *cobra.Command {
	var cfgPath string
	var noQR bool
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Show the viewer pairing link for this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Agent.MachineID) == "" {
				return fmt.Errorf("agent.machine_id must be configured before pairing")
			}
			link, err := pairingLink(cfg.Relay.URL, cfg.Agent.MachineID)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if !noQR {
				qrterminal.GenerateHalfBlock(link, qrterminal.L, w)
			}
			_, err = fmt.Fprintf(w, "%s\n", link)
			return err
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to config.yaml")
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "print only the link")
	return cmd
}

// pairingLink derives the HTTPS viewer link from the relay WebSocket URL:
// wss://relay.example.com/ws becomes https://relay.example.com/pair/<machine>.
func pairingLink(relayURL, machineID string) (string, error) {
	parsed, err := url.Parse(relayURL)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("relay url invalid: %q", relayURL)
	}
	scheme := "https"
	if parsed.Scheme == "ws" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/pair/%s", scheme, parsed.Host, url.PathEscape(machineID)), nil
}
