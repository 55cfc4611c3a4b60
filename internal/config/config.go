// Package config loads the engine's runtime configuration: a nested YAML
// document (structure per 0xtitan6-polymarket-mm's viper-based Config) for
// the shape of things, layered with a .env file (per the teacher's
// godotenv.Load() habit) and explicit environment overrides for anything
// secret — private keys, API credentials — so neither ever has to sit in
// the YAML file in plaintext.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// WalletConfig holds venue P's on-chain signer.
type WalletConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	ChainID    int64  `mapstructure:"chain_id"`
}

// VenuePConfig configures the Polymarket-shaped leg-A venue.
type VenuePConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	GammaURL    string        `mapstructure:"gamma_url"`
	WSURL       string        `mapstructure:"ws_url"`
	SlugPrefix  string        `mapstructure:"slug_prefix"`
	APIKey      string        `mapstructure:"api_key"`
	APISecret   string        `mapstructure:"api_secret"`
	Passphrase  string        `mapstructure:"passphrase"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	Wallet      WalletConfig  `mapstructure:"wallet"`
}

// VenueKConfig configures the Kalshi-shaped leg-B venue.
type VenueKConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	BasePathPrefix string        `mapstructure:"base_path_prefix"`
	WSBaseURL      string        `mapstructure:"ws_base_url"`
	SeriesTicker   string        `mapstructure:"series_ticker"`
	AccessKeyID    string        `mapstructure:"access_key_id"`
	PrivKeyPath    string        `mapstructure:"priv_key_path"`
	Env            string        `mapstructure:"env"` // "prod" or "demo"
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`
}

// RiskConfig carries internal/risk.Config's fields so the caller of Load
// can translate cfg.Risk straight into risk.Config without a second
// translation layer living outside this package. MinOrderNotionalP and
// MaxPerTradeQty have no counterpart in risk.Config.
type RiskConfig struct {
	MinEdgeNet           float64       `mapstructure:"min_edge_net"`
	MinLegSize           float64       `mapstructure:"min_leg_size"`
	Cooldown             time.Duration `mapstructure:"cooldown"`
	CooldownAfterKill    time.Duration `mapstructure:"cooldown_after_kill"`
	MaxDailyLoss         float64       `mapstructure:"max_daily_loss"`
	MaxNotional          float64       `mapstructure:"max_notional"`
	MaxOpenOrdersP       int           `mapstructure:"max_open_orders_p"`
	MaxOpenOrdersK       int           `mapstructure:"max_open_orders_k"`
	MinMsUntilRollover   int64         `mapstructure:"min_ms_until_rollover"`
	MaxQuoteAge          time.Duration `mapstructure:"max_quote_age"`
	MaxPositionImbalance float64       `mapstructure:"max_position_imbalance"`
	MinOrderNotionalP    float64       `mapstructure:"min_order_notional_p"`
	MaxPerTradeQty       float64       `mapstructure:"max_per_trade_qty"`
}

// ExecutionConfig mirrors internal/execution.Config's timing/size knobs.
type ExecutionConfig struct {
	LegOrderTimeout   time.Duration `mapstructure:"leg_order_timeout"`
	MinPartialFillQty float64       `mapstructure:"min_partial_fill_qty"`
	UnwindRetries     int           `mapstructure:"unwind_retries"`
	UnwindRetryDelay  time.Duration `mapstructure:"unwind_retry_delay"`
}

// SettlementConfig mirrors internal/settlement.Config.
type SettlementConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	GiveUpAfter  time.Duration `mapstructure:"give_up_after"`
}

// ReconcileConfig mirrors internal/reconcile.Config.
type ReconcileConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	PostExecutionGrace time.Duration `mapstructure:"post_execution_grace"`
	MinMsUntilRollover int64         `mapstructure:"min_ms_until_rollover"`
}

// VolatilityConfig mirrors internal/volatility.Config.
type VolatilityConfig struct {
	ActiveWindow          time.Duration `mapstructure:"active_window"`
	CrossingsToTrigger    int           `mapstructure:"crossings_to_trigger"`
	RangeThresholdUSD     float64       `mapstructure:"range_threshold_usd"`
	FailedTriggerCooldown time.Duration `mapstructure:"failed_trigger_cooldown"`
	SecondLegTimeout      time.Duration `mapstructure:"second_leg_timeout"`
	SecondLegMinProfit    float64       `mapstructure:"second_leg_min_profit"`
	HaltWindow            time.Duration `mapstructure:"halt_window"`
}

// CoordinatorConfig mirrors internal/coordinator.Config.
type CoordinatorConfig struct {
	DiscoveryInterval time.Duration `mapstructure:"discovery_interval"`
	PrefetchWindow    time.Duration `mapstructure:"prefetch_window"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	RefTolerance      float64       `mapstructure:"ref_tolerance"`
	DailyLossResetAt  time.Duration `mapstructure:"daily_loss_reset_at"`
}

// JournalConfig configures the append-only JSONL event log.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// DashboardConfig configures the offline analytics HTTP server.
type DashboardConfig struct {
	Port        int    `mapstructure:"port"`
	Host        string `mapstructure:"host"`
	JournalDir  string `mapstructure:"journal_dir"`
	RefreshRate int    `mapstructure:"refresh_rate"`
}

// AlertConfig configures Telegram operator alerting. BotToken is read from
// alert.bot_token in the YAML file; a non-empty BOXARB_ALERT_BOT_TOKEN
// environment variable overrides it (see the sensitive-field overrides in
// Load).
type AlertConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// MetricsConfig toggles internal Prometheus counters/gauges.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Config is the engine's full runtime configuration, assembled from YAML,
// a .env secrets file, and environment overrides.
type Config struct {
	DryRun bool `mapstructure:"dry_run"`

	VenueP      VenuePConfig      `mapstructure:"venue_p"`
	VenueK      VenueKConfig      `mapstructure:"venue_k"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
	Settlement  SettlementConfig  `mapstructure:"settlement"`
	Reconcile   ReconcileConfig   `mapstructure:"reconcile"`
	Volatility  VolatilityConfig  `mapstructure:"volatility"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Journal     JournalConfig     `mapstructure:"journal"`
	Dashboard   DashboardConfig   `mapstructure:"dashboard"`
	Alert       AlertConfig       `mapstructure:"alert"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// Load reads path (a YAML file) via viper, applies a .env file (if present)
// for secrets, overlays BOXARB_-prefixed environment variables, then
// explicitly overrides the handful of fields that must never live in a
// checked-in YAML file, following 0xtitan6-polymarket-mm's sensitive-field
// override pattern.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BOXARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}

	// Keys omit the BOXARB_ prefix: SetEnvPrefix adds it, so "WALLET_PRIVATE_KEY"
	// reads BOXARB_WALLET_PRIVATE_KEY.
	if s := v.GetString("WALLET_PRIVATE_KEY"); s != "" {
		cfg.VenueP.Wallet.PrivateKey = s
	}
	if s := v.GetString("VENUE_P_API_KEY"); s != "" {
		cfg.VenueP.APIKey = s
	}
	if s := v.GetString("VENUE_P_API_SECRET"); s != "" {
		cfg.VenueP.APISecret = s
	}
	if s := v.GetString("VENUE_P_PASSPHRASE"); s != "" {
		cfg.VenueP.Passphrase = s
	}
	if s := v.GetString("VENUE_K_ACCESS_KEY_ID"); s != "" {
		cfg.VenueK.AccessKeyID = s
	}
	if s := v.GetString("VENUE_K_PRIV_KEY_PATH"); s != "" {
		cfg.VenueK.PrivKeyPath = s
	}
	if s := v.GetString("ALERT_BOT_TOKEN"); s != "" {
		cfg.Alert.BotToken = s
	}
	if v.IsSet("DRY_RUN") {
		cfg.DryRun = v.GetBool("DRY_RUN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dry_run", true)
	v.SetDefault("venue_p.chain_id", 137)
	v.SetDefault("venue_p.http_timeout", 10*time.Second)
	v.SetDefault("venue_p.wallet.chain_id", 137)
	v.SetDefault("venue_k.env", "prod")
	v.SetDefault("venue_k.http_timeout", 10*time.Second)
	v.SetDefault("venue_k.base_path_prefix", "/trade-api/v2")
	v.SetDefault("risk.cooldown", 5*time.Second)
	v.SetDefault("risk.cooldown_after_kill", 5*time.Minute)
	v.SetDefault("risk.max_position_imbalance", 1.0)
	v.SetDefault("risk.min_order_notional_p", 1.0)
	v.SetDefault("risk.max_per_trade_qty", 1000.0)
	v.SetDefault("execution.leg_order_timeout", 5*time.Second)
	v.SetDefault("execution.unwind_retries", 3)
	v.SetDefault("execution.unwind_retry_delay", 2*time.Second)
	v.SetDefault("settlement.poll_interval", 10*time.Second)
	v.SetDefault("settlement.give_up_after", 15*time.Minute)
	v.SetDefault("reconcile.tick_interval", 60*time.Second)
	v.SetDefault("reconcile.post_execution_grace", 5*time.Second)
	v.SetDefault("volatility.active_window", 450*time.Second)
	v.SetDefault("volatility.crossings_to_trigger", 2)
	v.SetDefault("volatility.halt_window", 60*time.Second)
	v.SetDefault("coordinator.discovery_interval", 30*time.Second)
	v.SetDefault("coordinator.reconcile_interval", 60*time.Second)
	v.SetDefault("coordinator.ref_tolerance", 0.005)
	v.SetDefault("journal.path", "./journal.jsonl")
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("dashboard.host", "localhost")
	v.SetDefault("dashboard.refresh_rate", 3)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
}

// Validate checks required fields and cross-field constraints, per
// 0xtitan6-polymarket-mm's Config.Validate.
func (c *Config) Validate() error {
	if !c.DryRun {
		if c.VenueP.Wallet.PrivateKey == "" {
			return fmt.Errorf("config: venue_p.wallet.private_key is required outside dry-run")
		}
		if c.VenueK.AccessKeyID == "" {
			return fmt.Errorf("config: venue_k.access_key_id is required outside dry-run")
		}
		if c.VenueK.PrivKeyPath == "" {
			return fmt.Errorf("config: venue_k.priv_key_path is required outside dry-run")
		}
	}
	if c.VenueK.Env != "prod" && c.VenueK.Env != "demo" {
		return fmt.Errorf("config: venue_k.env must be 'prod' or 'demo', got %q", c.VenueK.Env)
	}
	if c.VenueP.BaseURL == "" {
		return fmt.Errorf("config: venue_p.base_url is required")
	}
	if c.Risk.MaxNotional <= 0 {
		return fmt.Errorf("config: risk.max_notional must be positive")
	}
	if c.Risk.MaxOpenOrdersP < 0 || c.Risk.MaxOpenOrdersK < 0 {
		return fmt.Errorf("config: risk.max_open_orders_{p,k} must not be negative")
	}
	return nil
}
