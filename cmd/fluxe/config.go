package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type config struct {
	APIURL          string
	Proxy           string
	SessionDir      string
	LogLevel        slog.Level
	PageSize        int
	NetworkAttempts uint
	RefreshSkew     time.Duration
	RateLimit       bool
	PollInterval    time.Duration
}

// globalFlags declares the flags accepted before the command name.
func globalFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("fluxe", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.String("config", "", "config file (default ~/.config/fluxe/config.yaml)")
	fs.String("api-url", "http://localhost:3000", "Fluxe API base URL")
	fs.String("proxy", "", "proxy URL")
	fs.String("session-dir", "", "directory holding session.json (default ~/.go-fluxe)")
	fs.String("log-level", "warn", "log level: debug, info, warn, error")
	return fs
}

// loadConfig merges defaults, the config file, FLUXE_* environment variables
// and flags, in increasing order of precedence.
func loadConfig(fs *pflag.FlagSet) (*config, error) {
	v := viper.New()
	v.SetDefault("page-size", 20)
	v.SetDefault("network-attempts", 3)
	v.SetDefault("refresh-skew", "30s")
	v.SetDefault("rate-limit", false)
	v.SetDefault("poll-interval", "30s")

	v.SetConfigType("yaml")
	explicit, _ := fs.GetString("config")
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "fluxe"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FLUXE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("log-level: %w", err)
	}

	cfg := &config{
		APIURL:          v.GetString("api-url"),
		Proxy:           v.GetString("proxy"),
		SessionDir:      v.GetString("session-dir"),
		LogLevel:        level,
		PageSize:        v.GetInt("page-size"),
		NetworkAttempts: v.GetUint("network-attempts"),
		RefreshSkew:     v.GetDuration("refresh-skew"),
		RateLimit:       v.GetBool("rate-limit"),
		PollInterval:    v.GetDuration("poll-interval"),
	}
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("api-url is required")
	}
	return cfg, nil
}
