// Package config loads process configuration from the environment, with an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMemory  = "memory"
	StoreWS      = "ws"
	StoreSurreal = "surreal"
)

// Provider exposes configuration values to the components that need them.
type Provider interface {
	GetStore() string
	GetAddr() string
	GetURL() string
	GetCredDir() string
	GetRoom() uint64
	GetPointerInterval() time.Duration
	GetViewport() (width, height float64)
	GetDBURL() string
	GetDBUser() string
	GetDBPass() string
	GetDBNs() string
	GetDBDb() string
	GetDBQueryTimeout() time.Duration
}

// Config holds all configuration for the application.
type Config struct {
	Store           string        `validate:"oneof=memory ws surreal"`
	Addr            string        `validate:"required"`
	URL             string        `validate:"required_if=Store ws"`
	CredDir         string        `validate:"required"`
	Room            uint64        `validate:"required"`
	PointerInterval time.Duration `validate:"gte=0"`
	ViewportWidth   float64       `validate:"gt=0"`
	ViewportHeight  float64       `validate:"gt=0"`

	DBUrl          string `validate:"required_if=Store surreal"`
	DBNs           string `validate:"required_if=Store surreal"`
	DBDb           string `validate:"required_if=Store surreal"`
	DBUser         string
	DBPass         string
	DBQueryTimeout time.Duration `validate:"gt=0"`
}

var validate = validator.New()

// New loads configuration from environment variables. A missing .env file is
// not an error.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}
	return FromEnv()
}

// FromEnv builds the configuration from the current environment only.
func FromEnv() (*Config, error) {
	var errs []error

	cfg := &Config{
		Store:   getenv("QUICKCHAT_STORE", StoreMemory),
		Addr:    getenv("QUICKCHAT_ADDR", ":3000"),
		URL:     getenv("QUICKCHAT_URL", "ws://localhost:3000/ws"),
		CredDir: getenv("QUICKCHAT_CRED_DIR", defaultCredDir()),
		DBUrl:   os.Getenv("SURREAL_URL"),
		DBUser:  os.Getenv("SURREAL_USER"),
		DBPass:  os.Getenv("SURREAL_PASS"),
		DBNs:    os.Getenv("SURREAL_NS"),
		DBDb:    os.Getenv("SURREAL_DB"),
	}

	room, err := strconv.ParseUint(getenv("QUICKCHAT_ROOM", "1"), 10, 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("QUICKCHAT_ROOM: %w", err))
	}
	cfg.Room = room

	if cfg.PointerInterval, err = time.ParseDuration(getenv("QUICKCHAT_POINTER_INTERVAL", "0s")); err != nil {
		errs = append(errs, fmt.Errorf("QUICKCHAT_POINTER_INTERVAL: %w", err))
	}
	if cfg.DBQueryTimeout, err = time.ParseDuration(getenv("SURREAL_QUERY_TIMEOUT", "5s")); err != nil {
		errs = append(errs, fmt.Errorf("SURREAL_QUERY_TIMEOUT: %w", err))
	}
	if cfg.ViewportWidth, cfg.ViewportHeight, err = ParseViewport(getenv("QUICKCHAT_VIEWPORT", "1920x1080")); err != nil {
		errs = append(errs, fmt.Errorf("QUICKCHAT_VIEWPORT: %w", err))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ParseViewport parses a "WIDTHxHEIGHT" size.
func ParseViewport(s string) (float64, float64, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("want WIDTHxHEIGHT, got %q", s)
	}
	width, err := strconv.ParseFloat(w, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("width: %w", err)
	}
	height, err := strconv.ParseFloat(h, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("height: %w", err)
	}
	return width, height, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultCredDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quickchat"
	}
	return filepath.Join(home, ".quickchat")
}

func (c *Config) GetStore() string                  { return c.Store }
func (c *Config) GetAddr() string                   { return c.Addr }
func (c *Config) GetURL() string                    { return c.URL }
func (c *Config) GetCredDir() string                { return c.CredDir }
func (c *Config) GetRoom() uint64                   { return c.Room }
func (c *Config) GetPointerInterval() time.Duration { return c.PointerInterval }
func (c *Config) GetViewport() (float64, float64)   { return c.ViewportWidth, c.ViewportHeight }
func (c *Config) GetDBURL() string                  { return c.DBUrl }
func (c *Config) GetDBUser() string                 { return c.DBUser }
func (c *Config) GetDBPass() string                 { return c.DBPass }
func (c *Config) GetDBNs() string                   { return c.DBNs }
func (c *Config) GetDBDb() string                   { return c.DBDb }
func (c *Config) GetDBQueryTimeout() time.Duration  { return c.DBQueryTimeout }
