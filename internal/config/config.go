package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"golang.org/x/crypto/bcrypt"
)

const EnvPrefix = "BUGRELAY"

// DefaultCode seeds games created without a snippet.
const DefaultCode = "some code\nwith lines\naaaa"

type Config struct {
	Addr string

	Store       string // memory, postgres or redis
	DatabaseURL string
	RedisURL    string

	BcryptCost   int
	StrictTurns  bool
	DefaultCode  string
	ReadLimit    int64
	WriteTimeout time.Duration
	OutboxSize   int
	StoreQueue   int
	StoreTimeout time.Duration
	OriginHosts  []string

	LogLevel  string
	LogFormat string // json or console
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Store {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("--database-url is required for the postgres store"))
		}
	case "redis":
		if c.RedisURL == "" {
			errs = append(errs, errors.New("--redis-url is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q (want memory, postgres or redis)", c.Store))
	}

	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("invalid bcrypt cost (must be between %d-%d inclusive): %d", bcrypt.MinCost, bcrypt.MaxCost, c.BcryptCost))
	}
	if c.ReadLimit <= 0 {
		errs = append(errs, fmt.Errorf("invalid read limit: %d", c.ReadLimit))
	}
	if c.WriteTimeout <= 0 || c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.OutboxSize <= 0 || c.StoreQueue <= 0 {
		errs = append(errs, errors.New("queue sizes must be positive"))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}

	return multierr.Combine(errs...)
}

// RegisterFlags declares every setting on fs with its default.
func RegisterFlags(fs *pflag.FlagSet, c *Config) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&c.Addr, "addr", "a", ":8080", "address to listen on (env: BUGRELAY_ADDR)")
	fs.StringVar(&c.Store, "store", "memory", "where players and finished games are kept: memory, postgres or redis (env: BUGRELAY_STORE)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "postgres dsn (env: BUGRELAY_DATABASE_URL)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "redis url, e.g. redis://localhost:6379/0 (env: BUGRELAY_REDIS_URL)")
	fs.IntVar(&c.BcryptCost, "bcrypt-cost", bcrypt.DefaultCost, "cost used to hash passwords (env: BUGRELAY_BCRYPT_COST)")
	fs.BoolVar(&c.StrictTurns, "strict-turns", false, "only the joiner may bug and only the author may fix (env: BUGRELAY_STRICT_TURNS)")
	fs.StringVar(&c.DefaultCode, "default-code", DefaultCode, "snippet used when createGame carries no code (env: BUGRELAY_DEFAULT_CODE)")
	fs.Int64Var(&c.ReadLimit, "read-limit", 64<<10, "maximum inbound message size in bytes (env: BUGRELAY_READ_LIMIT)")
	fs.DurationVar(&c.WriteTimeout, "write-timeout", 3*time.Second, "per-message write deadline (env: BUGRELAY_WRITE_TIMEOUT)")
	fs.IntVar(&c.OutboxSize, "outbox-size", 16, "messages buffered per connection (env: BUGRELAY_OUTBOX_SIZE)")
	fs.IntVar(&c.StoreQueue, "store-queue", 256, "pending store writes before new ones are dropped (env: BUGRELAY_STORE_QUEUE)")
	fs.DurationVar(&c.StoreTimeout, "store-timeout", 5*time.Second, "deadline for one store write (env: BUGRELAY_STORE_TIMEOUT)")
	fs.StringSliceVar(&c.OriginHosts, "origin", nil, "extra allowed websocket origin patterns (env: BUGRELAY_ORIGIN)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug, info, warn or error (env: BUGRELAY_LOG_LEVEL)")
	fs.StringVar(&c.LogFormat, "log-format", "json", "json or console (env: BUGRELAY_LOG_FORMAT)")
}

// BindEnv copies BUGRELAY_* values (and a .env file, if present) into every
// flag not set on the command line. Call it after fs has been parsed.
func BindEnv(fs *pflag.FlagSet) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindEnv(f.Name)
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := fs.Set(f.Name, v.GetString(f.Name)); err != nil {
			errs = append(errs, fmt.Errorf("%s_%s: %w", EnvPrefix, strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")), err))
		}
	})
	return multierr.Combine(errs...)
}
