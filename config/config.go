// Package config loads runtime settings for the migration and seed commands from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DriverPostgres selects the lib/pq driver.
	DriverPostgres = "postgres"
	// DriverSQLite selects the modernc.org/sqlite driver.
	DriverSQLite = "sqlite"
)

var (
	// ErrMissingVariables is returned when required variables are not set.
	ErrMissingVariables = errors.New("required environment variables are not set")
	// ErrInvalidVariables is returned when variables cannot be parsed.
	ErrInvalidVariables = errors.New("environment variables have invalid values")
)

// Config holds every setting the CLI needs.
type Config struct {
	Driver      string
	DatabaseURL string

	User     string
	Password string
	Host     string
	Port     int
	Name     string

	SSL       bool
	SSLStrict bool

	StatementTimeout time.Duration
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration

	LogFormat string
	LogLevel  slog.Level

	AdminUsername string
	AdminPassword string
	AdminFullName string
	PasswordCost  int

	DriftCheckCron string
}

// Load parses configuration values from the current process environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom parses configuration values using the given lookup function.
// Missing and invalid variables are collected and reported together.
func LoadFrom(getenv func(string) string) (Config, error) {
	cfg := Config{
		Driver:          DriverPostgres,
		Port:            5432,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		LogFormat:       "text",
		LogLevel:        slog.LevelInfo,
		AdminUsername:   "admin",
		AdminFullName:   "Administrator",
		PasswordCost:    bcrypt.DefaultCost,
		DriftCheckCron:  "@every 5m",
	}

	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	missing := make([]string, 0, 2)
	invalid := make([]string, 0, 2)

	if driver := env("DB_DRIVER"); driver != "" {
		switch driver {
		case DriverPostgres, DriverSQLite:
			cfg.Driver = driver
		default:
			invalid = append(invalid, "DB_DRIVER")
		}
	}

	cfg.DatabaseURL = env("DATABASE_URL")
	cfg.User = env("DB_USER")
	cfg.Password = getenv("DB_PASSWORD")
	cfg.Host = env("DB_HOST")
	cfg.Name = env("DB_NAME")

	if value := env("DB_PORT"); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 || port > 65535 {
			invalid = append(invalid, "DB_PORT")
		} else {
			cfg.Port = port
		}
	}

	parseBool := func(key string, dst *bool) {
		if value := env(key); value != "" {
			b, err := strconv.ParseBool(value)
			if err != nil {
				invalid = append(invalid, key)
				return
			}
			*dst = b
		}
	}
	parseBool("DB_SSL", &cfg.SSL)
	parseBool("DB_SSL_STRICT", &cfg.SSLStrict)

	parseDuration := func(key string, dst *time.Duration) {
		if value := env(key); value != "" {
			d, err := time.ParseDuration(value)
			if err != nil || d < 0 {
				invalid = append(invalid, key)
				return
			}
			*dst = d
		}
	}
	parseDuration("DB_STATEMENT_TIMEOUT", &cfg.StatementTimeout)
	parseDuration("DB_CONN_MAX_LIFETIME", &cfg.ConnMaxLifetime)

	parseInt := func(key string, dst *int, lowest int) {
		if value := env(key); value != "" {
			n, err := strconv.Atoi(value)
			if err != nil || n < lowest {
				invalid = append(invalid, key)
				return
			}
			*dst = n
		}
	}
	parseInt("DB_MAX_OPEN_CONNS", &cfg.MaxOpenConns, 1)
	parseInt("DB_MAX_IDLE_CONNS", &cfg.MaxIdleConns, 0)
	parseInt("PASSWORD_COST", &cfg.PasswordCost, bcrypt.MinCost)
	if cfg.PasswordCost > bcrypt.MaxCost {
		invalid = append(invalid, "PASSWORD_COST")
	}

	if format := env("LOG_FORMAT"); format != "" {
		if format != "text" && format != "json" {
			invalid = append(invalid, "LOG_FORMAT")
		} else {
			cfg.LogFormat = format
		}
	}

	if level := env("LOG_LEVEL"); level != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
			invalid = append(invalid, "LOG_LEVEL")
		}
	}

	if username := env("ADMIN_USERNAME"); username != "" {
		cfg.AdminUsername = username
	}
	cfg.AdminPassword = getenv("ADMIN_PASSWORD")
	if fullName := env("ADMIN_FULL_NAME"); fullName != "" {
		cfg.AdminFullName = fullName
	}

	if expr := env("DRIFT_CHECK_CRON"); expr != "" {
		cfg.DriftCheckCron = expr
	}

	if cfg.DatabaseURL == "" {
		if cfg.Driver == DriverSQLite {
			if cfg.Name == "" {
				missing = append(missing, "DATABASE_URL or DB_NAME")
			}
		} else {
			for key, value := range map[string]string{"DB_USER": cfg.User, "DB_HOST": cfg.Host, "DB_NAME": cfg.Name} {
				if value == "" {
					missing = append(missing, key)
				}
			}
		}
	}

	if len(missing) > 0 {
		slices.Sort(missing)
		return Config{}, fmt.Errorf("%w: %s", ErrMissingVariables, strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("%w: %s", ErrInvalidVariables, strings.Join(invalid, ", "))
	}

	return cfg, nil
}

// DSN returns the connection string for the configured driver.
// DATABASE_URL takes precedence over the individual DB_* parts.
func (c Config) DSN() string {
	if c.Driver == DriverSQLite {
		if c.DatabaseURL != "" {
			return c.DatabaseURL
		}
		return "file:" + c.Name + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	if c.DatabaseURL != "" {
		return withSSLMode(c.DatabaseURL, c.sslMode(), c.SSL)
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}

	q := url.Values{}
	q.Set("sslmode", c.sslMode())
	u.RawQuery = q.Encode()

	return u.String()
}

func (c Config) sslMode() string {
	switch {
	case c.SSL && c.SSLStrict:
		return "verify-full"
	case c.SSL:
		return "require"
	default:
		return "disable"
	}
}

// withSSLMode sets sslmode on a URL-style DSN unless the URL already carries one
// and TLS was not requested explicitly.
func withSSLMode(dsn, mode string, explicit bool) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return dsn
	}

	q := u.Query()
	if q.Get("sslmode") != "" && !explicit {
		return dsn
	}
	q.Set("sslmode", mode)
	u.RawQuery = q.Encode()

	return u.String()
}

// RequireAdmin reports an error when the bootstrap administrator cannot be seeded.
func (c Config) RequireAdmin() error {
	if c.AdminPassword == "" {
		return fmt.Errorf("%w: ADMIN_PASSWORD", ErrMissingVariables)
	}
	return nil
}
