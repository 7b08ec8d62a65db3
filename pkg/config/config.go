// Package config loads server settings from a TOML file, with FOMO_*
// environment variables taking precedence over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	tml "github.com/BurntSushi/toml"
	"github.com/cbodonnell/fomo/pkg/game/constants"
	"github.com/shopspring/decimal"
)

// Duration is a time.Duration written as a string such as "10s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Port int `toml:"port"`
	// AllowedOrigins are the CORS origins allowed to call the API
	AllowedOrigins []string `toml:"allowedOrigins"`

	Log      Log      `toml:"log"`
	Database Database `toml:"database"`
	Game     Game     `toml:"game"`
	Oracle   Oracle   `toml:"oracle"`
	Auth     Auth     `toml:"auth"`
}

type Log struct {
	Level string `toml:"level"`
	// File enables rotated file output in addition to stdout
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"maxSizeMB"`
	MaxBackups int    `toml:"maxBackups"`
	MaxAgeDays int    `toml:"maxAgeDays"`
}

type Database struct {
	// URL is sqlite://<file> or postgres://...
	URL           string `toml:"url"`
	MigrationsDir string `toml:"migrationsDir"`
}

type Game struct {
	// Owner is the only player allowed to set the target. Empty allows anyone.
	Owner string `toml:"owner"`
	// PaymentUnit is the payment required per deposited unit, as a decimal string
	PaymentUnit  string   `toml:"paymentUnit"`
	LoopInterval Duration `toml:"loopInterval"`
	SaveInterval Duration `toml:"saveInterval"`
	// TargetLow and TargetHigh, when set, make the owner request a target at startup
	TargetLow  uint64 `toml:"targetLow"`
	TargetHigh uint64 `toml:"targetHigh"`
}

type Oracle struct {
	// Token is the bearer token the oracle presents. Empty disables the oracle endpoints.
	Token string `toml:"token"`
	// Simulate answers requests in process instead of waiting for an external oracle
	Simulate      bool     `toml:"simulate"`
	SimulateDelay Duration `toml:"simulateDelay"`
}

type Auth struct {
	FirebaseProjectID       string `toml:"firebaseProjectId"`
	FirebaseAPIKey          string `toml:"firebaseApiKey"`
	FirebaseCredentialsFile string `toml:"firebaseCredentialsFile"`
	// StaticTokens is a comma separated token:player list used when Firebase is not configured
	StaticTokens string `toml:"staticTokens"`
}

// Default returns the settings used when neither a file nor the environment
// says otherwise.
func Default() *Config {
	return &Config{
		Port: 8080,
		Log: Log{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Database: Database{
			URL: "sqlite://fomo.db",
		},
		Game: Game{
			PaymentUnit:  constants.DefaultPaymentUnit,
			LoopInterval: Duration{constants.DefaultLoopInterval},
			SaveInterval: Duration{constants.DefaultSaveInterval},
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := tml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %v", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("FOMO_LOG_LEVEL", &c.Log.Level)
	str("FOMO_LOG_FILE", &c.Log.File)
	str("FOMO_DATABASE_URL", &c.Database.URL)
	str("FOMO_MIGRATIONS_DIR", &c.Database.MigrationsDir)
	str("FOMO_OWNER", &c.Game.Owner)
	str("FOMO_PAYMENT_UNIT", &c.Game.PaymentUnit)
	str("FOMO_ORACLE_TOKEN", &c.Oracle.Token)
	str("FOMO_FIREBASE_PROJECT_ID", &c.Auth.FirebaseProjectID)
	str("FOMO_FIREBASE_API_KEY", &c.Auth.FirebaseAPIKey)
	str("FOMO_FIREBASE_CREDENTIALS_FILE", &c.Auth.FirebaseCredentialsFile)
	str("FOMO_STATIC_TOKENS", &c.Auth.StaticTokens)

	if v, ok := lookup("FOMO_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FOMO_PORT %q: %v", v, err)
		}
		c.Port = port
	}
	if v, ok := lookup("FOMO_SIMULATE_ORACLE"); ok {
		simulate, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid FOMO_SIMULATE_ORACLE %q: %v", v, err)
		}
		c.Oracle.Simulate = simulate
	}
	if v, ok := lookup("FOMO_ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, origin)
			}
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database url must be set")
	}
	unit, err := c.PaymentUnit()
	if err != nil {
		return err
	}
	if !unit.IsPositive() {
		return fmt.Errorf("payment unit must be positive, got %s", unit)
	}
	if c.Game.TargetHigh != 0 && c.Game.TargetLow >= c.Game.TargetHigh {
		return fmt.Errorf("target low %d must be below target high %d", c.Game.TargetLow, c.Game.TargetHigh)
	}
	return nil
}

// PaymentUnit parses the configured payment unit.
func (c *Config) PaymentUnit() (decimal.Decimal, error) {
	unit, err := decimal.NewFromString(c.Game.PaymentUnit)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid payment unit %q: %v", c.Game.PaymentUnit, err)
	}
	return unit, nil
}
