package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/legalcheck/legalcheck-client/internal/config"
)

// globalFlags are the persistent flags shared by every subcommand. They
// override the config file only when set on the command line.
type globalFlags struct {
	configPath    string
	baseURL       string
	wsURL         string
	authMode      string
	tokenFile     string
	logLevel      string
	logFormat     string
	debugRequests bool
	metricsAddr   string
}

func (f *globalFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "Path to config file (default ~/.legalcheck/config.yaml or $LEGALCHECK_CONFIG)")
	pf.StringVar(&f.baseURL, "base-url", "", "API base URL, e.g. http://localhost:8000/api/v1/")
	pf.StringVar(&f.wsURL, "ws-url", "", "Websocket base URL (derived from --base-url when empty)")
	pf.StringVar(&f.authMode, "auth-mode", "", "How the websocket carries the token: query or cookie")
	pf.StringVar(&f.tokenFile, "token-file", "", "Session token file (default ~/.legalcheck/token)")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&f.logFormat, "log-format", "", "Log format: text or json")
	pf.BoolVar(&f.debugRequests, "debug-requests", false, "Log every API request at debug level")
	pf.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
}

// applyFlagOverrides copies explicitly set flags onto cfg. The websocket URL
// is re-derived when only the base URL changes.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config, flags *globalFlags) {
	if flagChanged(cmd, "base-url") {
		cfg.API.BaseURL = flags.baseURL
		if !flagChanged(cmd, "ws-url") {
			cfg.API.WSURL = config.DeriveWSURL(flags.baseURL)
		}
	}
	if flagChanged(cmd, "ws-url") {
		cfg.API.WSURL = flags.wsURL
	}
	if flagChanged(cmd, "auth-mode") {
		cfg.Auth.Mode = config.AuthMode(strings.ToLower(strings.TrimSpace(flags.authMode)))
	}
	if flagChanged(cmd, "token-file") {
		cfg.Auth.TokenFile = flags.tokenFile
	}
	if flagChanged(cmd, "log-level") {
		cfg.Logging.Level = flags.logLevel
	}
	if flagChanged(cmd, "log-format") {
		cfg.Logging.Format = flags.logFormat
	}
	if flagChanged(cmd, "debug-requests") {
		cfg.API.DebugRequests = flags.debugRequests
	}
	if flagChanged(cmd, "metrics-addr") {
		cfg.Observability.MetricsAddr = flags.metricsAddr
	}
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f.Changed
	}
	if f := cmd.InheritedFlags().Lookup(name); f != nil {
		return f.Changed
	}
	return false
}
