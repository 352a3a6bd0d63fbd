package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/najoast/robo/config"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "robod",
		Short: "Run robo units",
		Long: `robod builds a unit Context from a YAML or JSON configuration file,
starts every configured unit in dependency order and runs until it is
interrupted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "config file (default: robo.yaml in ., ./config, /etc/robo)")
	root.PersistentFlags().String("log-level", "", "override the configured log level")
	root.PersistentFlags().String("metrics-addr", "", "serve metrics on host:port")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("log-level", root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("metrics-addr", root.PersistentFlags().Lookup("metrics-addr"))

	v.SetEnvPrefix("ROBO")
	// ROBO_CONFIG, ROBO_LOG_LEVEL, ROBO_METRICS_ADDR
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(
		newRunCmd(v),
		newValidateCmd(v),
		newUnitsCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads the configuration selected by flags and environment and
// applies the flag overrides.
func loadConfig(v *viper.Viper) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader()

	cfg, err := loader.Load(v.GetString("config"))
	if err != nil {
		return nil, nil, err
	}

	if level := v.GetString("log-level"); level != "" {
		cfg.Log.Level = config.LogLevel(strings.ToLower(level))
	}

	if addr := v.GetString("metrics-addr"); addr != "" {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid metrics address %q: %w", addr, err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid metrics port %q: %w", port, err)
		}
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = host
		cfg.Metrics.Port = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", config.ErrConfigValidateError, err)
	}
	return cfg, loader, nil
}
