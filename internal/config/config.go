// Package config loads the engine's YAML configuration with viper, fills
// defaults, validates, and watches the file for log-level changes at runtime.
package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"propeval/internal/logger"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Challenge ChallengeConfig `yaml:"challenge"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	PriceFeed PriceFeedConfig `yaml:"price_feed"`
	Rules     RulesConfig     `yaml:"rules"`
	Journal   JournalConfig   `yaml:"journal"`
	Poll      PollConfig      `yaml:"poll"`
}

type AppConfig struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
	LogPath  string `yaml:"log_path"`
	HTTPAddr string `yaml:"http_addr"`
}

// ChallengeConfig describes the evaluation account this instance serves.
// StartBalance and the thresholds seed the local account; the backend's
// figures override them on first recovery.
type ChallengeConfig struct {
	ID              string  `yaml:"id"`
	ActiveSymbol    string  `yaml:"active_symbol"`
	StartBalance    float64 `yaml:"start_balance"`
	ProfitTargetPct float64 `yaml:"profit_target_pct"`
	MaxDrawdownPct  float64 `yaml:"max_drawdown_pct"`
	FeeBps          float64 `yaml:"fee_bps"`
}

type LedgerConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// PriceFeedConfig selects the quote source: the platform's REST feed ("api")
// or the Binance futures SDK ("binance") for crypto challenges.
type PriceFeedConfig struct {
	Provider string        `yaml:"provider"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

type RulesConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

type PollConfig struct {
	ActivePrice   time.Duration `yaml:"active_price"`
	OpenPrices    time.Duration `yaml:"open_prices"`
	Risk          time.Duration `yaml:"risk"`
	Resync        time.Duration `yaml:"resync"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
}

const (
	ProviderAPI     = "api"
	ProviderBinance = "binance"
)

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watch re-reads the file on change and applies the settings that are safe to
// flip at runtime. Everything else requires a restart.
func Watch(path string, onChange func(*Config)) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			logger.Errorf("config: reload failed, keeping previous settings: %v", err)
			return
		}
		logger.SetLevel(cfg.App.LogLevel)
		logger.Infof("config: reloaded %s (log_level=%s)", evt.Name, cfg.App.LogLevel)
		if onChange != nil {
			onChange(cfg)
		}
	})
	v.WatchConfig()
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
