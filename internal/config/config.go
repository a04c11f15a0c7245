// Package config loads service configuration from defaults, an optional
// config.yaml, and HARBORMIND_-prefixed environment variables, highest
// priority last.
package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Addr               string `mapstructure:"addr"`
	Mode               string `mapstructure:"mode"`
	DBPath             string `mapstructure:"db_path"`
	DataDir            string `mapstructure:"data_dir"`
	ImageSubdir        string `mapstructure:"image_subdir"`
	OpenAIBaseURL      string `mapstructure:"openai_base_url"`
	OpenAIAPIKey       string `mapstructure:"openai_api_key"`
	Model              string `mapstructure:"model"`
	HistoricalAPIURL   string `mapstructure:"historical_api_url"`
	HistoryTokenBudget int    `mapstructure:"history_token_budget"`
	AgentMaxIterations int    `mapstructure:"agent_max_iterations"`
}

func (c *Config) Dev() bool {
	return c.Mode == "dev"
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetDefault("addr", ":8100")
	v.SetDefault("mode", "prod")
	v.SetDefault("db_path", "harbormind.db")
	v.SetDefault("data_dir", "data")
	v.SetDefault("image_subdir", "generated")
	v.SetDefault("openai_base_url", "")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("model", "gpt-4o-mini")
	v.SetDefault("historical_api_url", "")
	v.SetDefault("history_token_budget", 3000)
	v.SetDefault("agent_max_iterations", 5)

	v.SetEnvPrefix("HARBORMIND")
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return &cfg, nil
}
