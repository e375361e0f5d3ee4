package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Settings are the application-level knobs shared by the CLI and the HTTP
// server, as opposed to the per-simulation game configs. They come from an
// optional settings file plus FAIRGAME_* environment variables.
type Settings struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	DatabasePath   string        `mapstructure:"database_path"`
	TemplateDir    string        `mapstructure:"template_dir"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	DecisionTime   time.Duration `mapstructure:"decision_timeout"`
	SessionTime    time.Duration `mapstructure:"session_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoadSettings reads application settings. The file is optional; defaults
// and environment variables alone produce a usable configuration. An empty
// path searches the working directory for fairgame.{yaml,toml,json}.
func LoadSettings(path string) (Settings, error) {
	v := viper.New()
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("database_path", "fairgame.db")
	v.SetDefault("template_dir", "resources/game_templates")
	v.SetDefault("max_attempts", 3)
	v.SetDefault("retry_backoff", time.Second)
	v.SetDefault("decision_timeout", 60*time.Second)
	v.SetDefault("session_timeout", 0)
	v.SetDefault("request_timeout", 60*time.Second)

	v.SetEnvPrefix("FAIRGAME")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fairgame")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return Settings{}, fmt.Errorf("read settings %s: %w", path, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("read settings: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}
