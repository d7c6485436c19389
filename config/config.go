// Package config loads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// User is a credential entry. Password is either plaintext or a bcrypt hash.
type User struct {
	Username string
	Role     string
	Password string
}

type Config struct {
	Addr        string
	DatabaseURL string
	RedisAddr   string
	JWTSecret   string
	TokenTTL    time.Duration
	WorkerCount int
	LoginRate   float64
	LoginBurst  int
	Users       []User
	LogLevel    slog.Level
}

const defaultUsers = "admin:admin:secret,readonly:readonly:secret"

var knownRoles = map[string]bool{"admin": true, "readonly": true}

// Load reads envFile (if it exists) into the process environment and then
// builds a Config from it. A missing env file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config using getenv for lookups.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Addr:      orDefault(getenv("SERVER_ADDR"), ":8080"),
		RedisAddr: getenv("REDIS_ADDR"),
		JWTSecret: getenv("JWT_SECRET"),
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be set")
	}

	cfg.DatabaseURL = getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = postgresURL(getenv)
	}

	var err error
	if cfg.TokenTTL, err = time.ParseDuration(orDefault(getenv("TOKEN_TTL"), "30m")); err != nil {
		return nil, fmt.Errorf("TOKEN_TTL: %w", err)
	}
	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("TOKEN_TTL must be positive, got %s", cfg.TokenTTL)
	}
	if cfg.WorkerCount, err = positiveInt(getenv("WORKER_COUNT"), 5); err != nil {
		return nil, fmt.Errorf("WORKER_COUNT: %w", err)
	}
	if cfg.LoginBurst, err = positiveInt(getenv("LOGIN_BURST"), 5); err != nil {
		return nil, fmt.Errorf("LOGIN_BURST: %w", err)
	}
	if cfg.LoginRate, err = strconv.ParseFloat(orDefault(getenv("LOGIN_RATE"), "0"), 64); err != nil {
		return nil, fmt.Errorf("LOGIN_RATE: %w", err)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(orDefault(getenv("LOG_LEVEL"), "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if cfg.Users, err = ParseUsers(orDefault(getenv("TASKAPI_USERS"), defaultUsers)); err != nil {
		return nil, fmt.Errorf("TASKAPI_USERS: %w", err)
	}
	return cfg, nil
}

// ParseUsers parses comma separated username:role:password entries. The
// password is everything after the second colon so bcrypt hashes survive.
func ParseUsers(raw string) ([]User, error) {
	var users []User
	seen := map[string]bool{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
			return nil, fmt.Errorf("malformed entry %q", entry)
		}
		if !knownRoles[parts[1]] {
			return nil, fmt.Errorf("unknown role %q for user %q", parts[1], parts[0])
		}
		if seen[parts[0]] {
			return nil, fmt.Errorf("duplicate user %q", parts[0])
		}
		seen[parts[0]] = true
		users = append(users, User{Username: parts[0], Role: parts[1], Password: parts[2]})
	}
	if len(users) == 0 {
		return nil, errors.New("no users configured")
	}
	return users, nil
}

func postgresURL(getenv func(string) string) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   orDefault(getenv("PGHOST"), "localhost") + ":" + orDefault(getenv("PGPORT"), "5432"),
		Path:   "/" + orDefault(getenv("PGDATABASE"), "task_manager"),
	}
	user := orDefault(getenv("PGUSER"), "postgres")
	if pw := getenv("PGPASSWORD"); pw != "" {
		u.User = url.UserPassword(user, pw)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

func positiveInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
