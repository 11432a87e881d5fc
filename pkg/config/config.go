// Package config loads server settings from flags, the environment and an optional .env file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the server
type Config struct {
	Debug bool
	Port  string

	// FrontendOrigin, when set, is the only Origin allowed to open a websocket.
	FrontendOrigin string

	// RoomTTL keeps empty rooms dormant this long before reclaiming them. Zero reclaims at once.
	RoomTTL      time.Duration
	ReapInterval time.Duration

	// SendBuffer is the number of outbound messages queued per connection before drops.
	SendBuffer int

	// RedisURL enables relaying global notices between instances.
	RedisURL     string
	RedisChannel string
}

// Default returns the settings used when nothing is configured
func Default() Config {
	return Config{
		Port:         "8080",
		ReapInterval: 30 * time.Second,
		SendBuffer:   256,
		RedisChannel: "room-server:broadcast",
	}
}

// Load reads .env (if present), then the environment, then command line flags. Later sources
// win.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	return Parse(args, os.Getenv)
}

// Parse builds a Config from an environment lookup and command line flags.
func Parse(args []string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	var errs []string

	env := func(key string) (string, bool) {
		v := strings.TrimSpace(getenv(key))
		return v, v != ""
	}

	if v, ok := env("DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("DEBUG must be a boolean, got %q", v))
		}
		cfg.Debug = b
	}
	if v, ok := env("PORT"); ok {
		cfg.Port = v
	}
	if v, ok := env("FRONTEND_ORIGIN"); ok {
		cfg.FrontendOrigin = v
	}
	if v, ok := env("ROOM_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("ROOM_TTL must be a duration, got %q", v))
		}
		cfg.RoomTTL = d
	}
	if v, ok := env("REAP_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("REAP_INTERVAL must be a duration, got %q", v))
		}
		cfg.ReapInterval = d
	}
	if v, ok := env("SEND_BUFFER"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("SEND_BUFFER must be an integer, got %q", v))
		}
		cfg.SendBuffer = n
	}
	if v, ok := env("REDIS_URL"); ok {
		cfg.RedisURL = v
	}
	if v, ok := env("REDIS_CHANNEL"); ok {
		cfg.RedisChannel = v
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration invalid: %s", strings.Join(errs, "; "))
	}

	flags := flag.NewFlagSet("server", flag.ContinueOnError)
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	flags.StringVar(&cfg.Port, "port", cfg.Port, "server port")
	flags.DurationVar(&cfg.RoomTTL, "room-ttl", cfg.RoomTTL, "how long empty rooms are kept (0 reclaims immediately)")
	flags.StringVar(&cfg.RedisURL, "redis", cfg.RedisURL, "redis URL for relaying notices between instances")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks all configuration invariants and reports every violation.
func (c Config) Validate() error {
	var errs []string

	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("port must be 1-65535, got %q", c.Port))
	}
	if c.RoomTTL < 0 {
		errs = append(errs, fmt.Sprintf("room ttl must not be negative, got %s", c.RoomTTL))
	}
	if c.RoomTTL > 0 && c.ReapInterval <= 0 {
		errs = append(errs, fmt.Sprintf("reap interval must be positive, got %s", c.ReapInterval))
	}
	if c.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("send buffer must be at least 1, got %d", c.SendBuffer))
	}
	if c.RedisURL != "" && c.RedisChannel == "" {
		errs = append(errs, "redis channel must not be empty when redis is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Addr returns the listen address
func (c Config) Addr() string {
	return ":" + c.Port
}
