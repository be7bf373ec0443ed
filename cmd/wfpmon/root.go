package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nmels/wfpmon/config"
	"github.com/nmels/wfpmon/wfp"
)

var (
	vip     = viper.New()
	cfgFile string

	rootCmd = &cobra.Command{
		Use:           "wfpmon",
		Short:         "Diagnostic monitor for Windows Filtering Platform net events",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default wfpmon.yaml in the working directory)")
	pf.Int("api-level", int(wfp.DefaultLevel),
		"interface level 0..4; setting it explicitly pins negotiation to that level")
	pf.Bool("show-all", false, "include allow events and firewall rules from all profiles")
	pf.Bool("ipv4", true, "show IPv4 events")
	pf.Bool("ipv6", true, "show IPv6 events")
	pf.Bool("own-user-only", false, "only show events attributed to the logged-on user")
	pf.StringSlice("exclude-addr", nil, "addresses whose events are ignored")
	pf.StringSlice("exclude-prog", nil, "programs (path or basename) whose events are ignored")
	pf.Duration("negotiate-timeout", 2*time.Second, "per-level registration timeout")
	pf.Int("width", 80, "output wrap width")
	pf.String("data-dir", "data", "directory for the event database")
	pf.String("rules-dir", "rules.d", "directory holding Sigma rules")
	pf.Bool("store", false, "record accepted events to the database")
	pf.Bool("sigma", false, "evaluate Sigma rules over accepted events")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")

	bindings := map[string]string{
		"api_level":         "api-level",
		"show_all":          "show-all",
		"ipv4":              "ipv4",
		"ipv6":              "ipv6",
		"own_user_only":     "own-user-only",
		"exclude_addresses": "exclude-addr",
		"exclude_programs":  "exclude-prog",
		"negotiate_timeout": "negotiate-timeout",
		"width":             "width",
		"data_dir":          "data-dir",
		"rules_dir":         "rules-dir",
		"store_enabled":     "store",
		"sigma_enabled":     "sigma",
		"log_level":         "log-level",
	}
	for key, flag := range bindings {
		if err := vip.BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func initConfig() {
	config.SetDefaults(vip)

	if cfgFile != "" {
		vip.SetConfigFile(cfgFile)
	} else {
		vip.SetConfigName("wfpmon")
		vip.AddConfigPath(".")
	}
	vip.SetEnvPrefix("WFPMON")
	vip.AutomaticEnv()

	if err := vip.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "wfpmon: reading config: %v\n", err)
			os.Exit(1)
		}
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("bad log level %q: %w", level, err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = lvl
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
