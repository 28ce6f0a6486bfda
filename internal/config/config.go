// Package config handles configuration loading for the screener.
// It supports YAML config files with environment variable overrides;
// every screening threshold is configuration, not code.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Data      DataConfig      `mapstructure:"data"      yaml:"data"`
	Market    MarketConfig    `mapstructure:"market"    yaml:"market"`
	Screening ScreeningConfig `mapstructure:"screening" yaml:"screening"`
	Notify    NotifyConfig    `mapstructure:"notify"    yaml:"notify"`
	News      NewsConfig      `mapstructure:"news"      yaml:"news"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
}

// DataConfig holds data-provider settings.
type DataConfig struct {
	FinMindToken   string `mapstructure:"finmind_token"    yaml:"finmind_token"`    // optional; extends FinMind quota
	OutputDir      string `mapstructure:"output_dir"       yaml:"output_dir"`       // default "data/output"
	RequestTimeout int    `mapstructure:"request_timeout"  yaml:"request_timeout"`  // seconds
	RetentionDays  int    `mapstructure:"retention_days"   yaml:"retention_days"`   // purge dated output dirs older than this
	FetchWorkers   int    `mapstructure:"fetch_workers"    yaml:"fetch_workers"`    // per-stage history fan-out
}

// MarketConfig holds session-window settings.
type MarketConfig struct {
	ScreenStart string `mapstructure:"screen_start" yaml:"screen_start"` // "13:00"
	MarketClose string `mapstructure:"market_close" yaml:"market_close"` // "13:30"
}

// ScreeningConfig holds the threshold sets for both strategy chains.
type ScreeningConfig struct {
	Left  LeftParams  `mapstructure:"left"  yaml:"left"`
	Right RightParams `mapstructure:"right" yaml:"right"`
}

// LeftParams parameterizes the left-side (accumulation) chain.
type LeftParams struct {
	MarketCapMin float64 `mapstructure:"market_cap_min" yaml:"market_cap_min"` // hundred-millions
	MarketCapMax float64 `mapstructure:"market_cap_max" yaml:"market_cap_max"`

	RevenueGrowthMin    float64 `mapstructure:"revenue_growth_min"    yaml:"revenue_growth_min"` // YoY %
	RevenueGrowthMonths int     `mapstructure:"revenue_growth_months" yaml:"revenue_growth_months"`

	PEMax float64 `mapstructure:"pe_max" yaml:"pe_max"`

	HigherLowsLookback  int     `mapstructure:"higher_lows_lookback"  yaml:"higher_lows_lookback"`
	HigherLowsMinCount  int     `mapstructure:"higher_lows_min_count" yaml:"higher_lows_min_count"`
	HigherLowsTolerance float64 `mapstructure:"higher_lows_tolerance" yaml:"higher_lows_tolerance"` // percent

	PullbackMinPct        float64 `mapstructure:"pullback_min_pct"        yaml:"pullback_min_pct"`
	PullbackMaxPct        float64 `mapstructure:"pullback_max_pct"        yaml:"pullback_max_pct"`
	PullbackWindow        int     `mapstructure:"pullback_window"         yaml:"pullback_window"`
	PullbackSlopeLookback int     `mapstructure:"pullback_slope_lookback" yaml:"pullback_slope_lookback"`
	PullbackTolerance     float64 `mapstructure:"pullback_tolerance"      yaml:"pullback_tolerance"` // fractional break allowance

	VolumeHealthWindow       int     `mapstructure:"volume_health_window"        yaml:"volume_health_window"`
	ExhaustionChangePct      float64 `mapstructure:"exhaustion_change_pct"       yaml:"exhaustion_change_pct"`
	HealthyVolumeRatio       float64 `mapstructure:"healthy_volume_ratio"        yaml:"healthy_volume_ratio"`
	TurnoverVolumeRatioMin   float64 `mapstructure:"turnover_volume_ratio_min"   yaml:"turnover_volume_ratio_min"`
	TurnoverVolumeRatioMax   float64 `mapstructure:"turnover_volume_ratio_max"   yaml:"turnover_volume_ratio_max"`

	ShrinkMinRunDays int     `mapstructure:"shrink_min_run_days" yaml:"shrink_min_run_days"`
	ShrinkThreshold  float64 `mapstructure:"shrink_threshold"    yaml:"shrink_threshold"` // fraction of average volume
	ShrinkAvgDays    int     `mapstructure:"shrink_avg_days"     yaml:"shrink_avg_days"`

	RSIPeriod         int     `mapstructure:"rsi_period"           yaml:"rsi_period"`
	RSIOversold       float64 `mapstructure:"rsi_oversold"         yaml:"rsi_oversold"`
	RSIRequireUpturn  bool    `mapstructure:"rsi_require_upturn"   yaml:"rsi_require_upturn"`
	RSIRequireAboveMA bool    `mapstructure:"rsi_require_above_ma" yaml:"rsi_require_above_ma"`

	TurnoverRateMin float64 `mapstructure:"turnover_rate_min" yaml:"turnover_rate_min"`
	TurnoverRateMax float64 `mapstructure:"turnover_rate_max" yaml:"turnover_rate_max"`

	MajorHolderMinPct      float64 `mapstructure:"major_holder_min_pct"      yaml:"major_holder_min_pct"`
	MajorHolderRisingWeeks int     `mapstructure:"major_holder_rising_weeks" yaml:"major_holder_rising_weeks"`

	QuietBuyMinDays      int     `mapstructure:"quiet_buy_min_days"      yaml:"quiet_buy_min_days"`
	QuietBuyMaxStability float64 `mapstructure:"quiet_buy_max_stability" yaml:"quiet_buy_max_stability"`
}

// RightParams parameterizes the right-side (momentum) chain.
type RightParams struct {
	MarketCapMin float64 `mapstructure:"market_cap_min" yaml:"market_cap_min"`
	MarketCapMax float64 `mapstructure:"market_cap_max" yaml:"market_cap_max"`

	PriceChangeMin float64 `mapstructure:"price_change_min" yaml:"price_change_min"`
	PriceChangeMax float64 `mapstructure:"price_change_max" yaml:"price_change_max"`

	VolumeRatioMin float64 `mapstructure:"volume_ratio_min" yaml:"volume_ratio_min"`

	ShortMAPeriods []int `mapstructure:"short_ma_periods" yaml:"short_ma_periods"`
	LongMAPeriod   int   `mapstructure:"long_ma_period"   yaml:"long_ma_period"`

	IntradayHighThreshold float64 `mapstructure:"intraday_high_threshold" yaml:"intraday_high_threshold"`
}

// NotifyConfig holds webhook notification settings. The notifier is a
// no-op when WebhookURL is unset.
type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
}

// NewsConfig holds the RSS feeds polled for the market-headlines block.
type NewsConfig struct {
	Feeds    []string `mapstructure:"feeds"     yaml:"feeds"`
	MaxItems int      `mapstructure:"max_items" yaml:"max_items"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"` // "debug", "info", "warn", "error"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.twscreener/config.yaml (home directory)
//
// Environment variables override config file values.
// Format: TWSCREENER_<SECTION>_<KEY>, e.g. TWSCREENER_DATA_FINMIND_TOKEN
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.twscreener")

	v.SetEnvPrefix("TWSCREENER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults plus env carry the run.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// LoadFromFile reads configuration from an explicit path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)

	v.SetEnvPrefix("TWSCREENER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data.output_dir", "data/output")
	v.SetDefault("data.request_timeout", 30)
	v.SetDefault("data.retention_days", 30)
	v.SetDefault("data.fetch_workers", 8)

	v.SetDefault("market.screen_start", "13:00")
	v.SetDefault("market.market_close", "13:30")

	// Left-side (accumulation) chain.
	v.SetDefault("screening.left.market_cap_min", 50.0)
	v.SetDefault("screening.left.market_cap_max", 50000.0)
	v.SetDefault("screening.left.revenue_growth_min", 0.0)
	v.SetDefault("screening.left.revenue_growth_months", 2)
	v.SetDefault("screening.left.pe_max", 30.0)
	v.SetDefault("screening.left.higher_lows_lookback", 40)
	v.SetDefault("screening.left.higher_lows_min_count", 2)
	v.SetDefault("screening.left.higher_lows_tolerance", 1.0)
	v.SetDefault("screening.left.pullback_min_pct", 5.0)
	v.SetDefault("screening.left.pullback_max_pct", 20.0)
	v.SetDefault("screening.left.pullback_window", 20)
	v.SetDefault("screening.left.pullback_slope_lookback", 5)
	v.SetDefault("screening.left.pullback_tolerance", 0.01)
	v.SetDefault("screening.left.volume_health_window", 20)
	v.SetDefault("screening.left.exhaustion_change_pct", 7.0)
	v.SetDefault("screening.left.healthy_volume_ratio", 2.0)
	v.SetDefault("screening.left.turnover_volume_ratio_min", 1.5)
	v.SetDefault("screening.left.turnover_volume_ratio_max", 3.0)
	v.SetDefault("screening.left.shrink_min_run_days", 3)
	v.SetDefault("screening.left.shrink_threshold", 0.7)
	v.SetDefault("screening.left.shrink_avg_days", 20)
	v.SetDefault("screening.left.rsi_period", 14)
	v.SetDefault("screening.left.rsi_oversold", 35.0)
	v.SetDefault("screening.left.rsi_require_upturn", true)
	v.SetDefault("screening.left.rsi_require_above_ma", false)
	v.SetDefault("screening.left.turnover_rate_min", 1.0)
	v.SetDefault("screening.left.turnover_rate_max", 20.0)
	v.SetDefault("screening.left.major_holder_min_pct", 40.0)
	v.SetDefault("screening.left.major_holder_rising_weeks", 2)
	v.SetDefault("screening.left.quiet_buy_min_days", 5)
	v.SetDefault("screening.left.quiet_buy_max_stability", 2.0)

	// Right-side (momentum) chain.
	v.SetDefault("screening.right.market_cap_min", 20.0)
	v.SetDefault("screening.right.market_cap_max", 50000.0)
	v.SetDefault("screening.right.price_change_min", 3.0)
	v.SetDefault("screening.right.price_change_max", 10.0)
	v.SetDefault("screening.right.volume_ratio_min", 1.0)
	v.SetDefault("screening.right.short_ma_periods", []int{5, 10, 20})
	v.SetDefault("screening.right.long_ma_period", 60)
	v.SetDefault("screening.right.intraday_high_threshold", 0.995)

	v.SetDefault("news.max_items", 5)
	v.SetDefault("news.feeds", []string{})

	v.SetDefault("logging.level", "info")
}
