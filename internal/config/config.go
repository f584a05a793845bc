package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const envPrefix = "ESCROW"

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Log      LogConfig
	Engine   EngineConfig
	Clock    ClockConfig
	Dev      DevConfig
	Ledger   LedgerConfig
	Exchange ExchangeConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	URL string
	// ProjectionQueue is how many committed calls may wait for the database
	// writer. Zero writes inside the call.
	ProjectionQueue int
}

type RedisConfig struct {
	URL string
	TTL time.Duration
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

type EngineConfig struct {
	Address                string
	LiquidationSlippageBps int64
	LiquidationWindow      time.Duration
}

type ClockConfig struct {
	Mode  string // system | manual
	Start time.Time
}

type DevConfig struct {
	Faucet bool
}

// Allocation is a genesis balance minted on the in-process ledger.
type Allocation struct {
	Token  string
	Owner  string
	Amount decimal.Decimal
}

type LedgerConfig struct {
	Genesis []Allocation
}

// Pair seeds the in-process venue: Rate is TokenB per TokenA.
type Pair struct {
	TokenA string
	TokenB string
	Rate   decimal.Decimal
}

type ExchangeConfig struct {
	Address string
	WETH    string
	Pairs   []Pair
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.url", "")
	v.SetDefault("database.projection_queue", 1024)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", false)
	v.SetDefault("engine.address", "escrow")
	v.SetDefault("engine.liquidation_slippage_bps", 50)
	v.SetDefault("engine.liquidation_window", 20*time.Minute)
	v.SetDefault("clock.mode", "system")
	v.SetDefault("clock.start", "")
	v.SetDefault("dev.faucet", false)
	v.SetDefault("exchange.address", "venue")
	v.SetDefault("exchange.weth", "WETH")
}

// Load reads configs/config.yaml (or path when set), then ESCROW_* env
// overrides. A missing default config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := &Config{}
	cfg.Server = ServerConfig{
		Port:         v.GetInt("server.port"),
		ReadTimeout:  v.GetDuration("server.read_timeout"),
		WriteTimeout: v.GetDuration("server.write_timeout"),
	}
	cfg.Database = DatabaseConfig{
		URL:             envSub(v, "database.url"),
		ProjectionQueue: v.GetInt("database.projection_queue"),
	}
	cfg.Redis = RedisConfig{
		URL: envSub(v, "redis.url"),
		TTL: v.GetDuration("redis.ttl"),
	}
	cfg.Log = LogConfig{
		Level:      v.GetString("log.level"),
		Format:     v.GetString("log.format"),
		File:       v.GetString("log.file"),
		MaxSize:    v.GetInt("log.max_size"),
		MaxBackups: v.GetInt("log.max_backups"),
		MaxAge:     v.GetInt("log.max_age"),
		Compress:   v.GetBool("log.compress"),
	}
	cfg.Engine = EngineConfig{
		Address:                v.GetString("engine.address"),
		LiquidationSlippageBps: v.GetInt64("engine.liquidation_slippage_bps"),
		LiquidationWindow:      v.GetDuration("engine.liquidation_window"),
	}
	cfg.Clock = ClockConfig{Mode: strings.ToLower(v.GetString("clock.mode"))}
	if s := v.GetString("clock.start"); s != "" {
		start, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("config: clock.start: %w", err)
		}
		cfg.Clock.Start = start
	}
	cfg.Dev = DevConfig{Faucet: v.GetBool("dev.faucet")}
	cfg.Exchange = ExchangeConfig{
		Address: v.GetString("exchange.address"),
		WETH:    v.GetString("exchange.weth"),
	}

	var err error
	if cfg.Ledger.Genesis, err = loadGenesis(v); err != nil {
		return nil, err
	}
	if cfg.Exchange.Pairs, err = loadPairs(v); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Clock.Mode != "system" && c.Clock.Mode != "manual" {
		return fmt.Errorf("config: clock.mode must be system or manual, got %q", c.Clock.Mode)
	}
	if c.Engine.Address == "" || c.Exchange.Address == "" {
		return errors.New("config: engine.address and exchange.address are required")
	}
	if c.Engine.Address == c.Exchange.Address {
		return errors.New("config: engine and exchange must use different addresses")
	}
	if c.Engine.LiquidationSlippageBps < 0 || c.Engine.LiquidationSlippageBps >= 10000 {
		return fmt.Errorf("config: engine.liquidation_slippage_bps %d out of [0,10000)", c.Engine.LiquidationSlippageBps)
	}
	if c.Database.ProjectionQueue < 0 {
		return fmt.Errorf("config: database.projection_queue %d must not be negative", c.Database.ProjectionQueue)
	}
	if c.Engine.LiquidationWindow <= 0 {
		return errors.New("config: engine.liquidation_window must be positive")
	}
	return nil
}

type rawAllocation struct {
	Token  string `mapstructure:"token"`
	Owner  string `mapstructure:"owner"`
	Amount string `mapstructure:"amount"`
}

type rawPair struct {
	TokenA string `mapstructure:"token_a"`
	TokenB string `mapstructure:"token_b"`
	Rate   string `mapstructure:"rate"`
}

func loadGenesis(v *viper.Viper) ([]Allocation, error) {
	var raw []rawAllocation
	if err := v.UnmarshalKey("ledger.genesis", &raw); err != nil {
		return nil, fmt.Errorf("config: ledger.genesis: %w", err)
	}
	out := make([]Allocation, 0, len(raw))
	for i, r := range raw {
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil || !amount.IsPositive() || !amount.IsInteger() {
			return nil, fmt.Errorf("config: ledger.genesis[%d]: amount %q must be a positive whole number", i, r.Amount)
		}
		if r.Token == "" || r.Owner == "" {
			return nil, fmt.Errorf("config: ledger.genesis[%d]: token and owner are required", i)
		}
		out = append(out, Allocation{Token: r.Token, Owner: r.Owner, Amount: amount})
	}
	return out, nil
}

func loadPairs(v *viper.Viper) ([]Pair, error) {
	var raw []rawPair
	if err := v.UnmarshalKey("exchange.pairs", &raw); err != nil {
		return nil, fmt.Errorf("config: exchange.pairs: %w", err)
	}
	out := make([]Pair, 0, len(raw))
	for i, r := range raw {
		rate, err := decimal.NewFromString(r.Rate)
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("config: exchange.pairs[%d]: rate %q must be positive", i, r.Rate)
		}
		if r.TokenA == "" || r.TokenB == "" || r.TokenA == r.TokenB {
			return nil, fmt.Errorf("config: exchange.pairs[%d]: two distinct tokens are required", i)
		}
		out = append(out, Pair{TokenA: r.TokenA, TokenB: r.TokenB, Rate: rate})
	}
	return out, nil
}

var envRef = regexp.MustCompile(`\$\{(\w+)\}`)

// envSub expands ${VAR} references in a string setting.
func envSub(v *viper.Viper, key string) string {
	val := v.GetString(key)
	if val == "" {
		return ""
	}
	return envRef.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}
