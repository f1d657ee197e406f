// Package config layers defaults, an optional YAML file, a .env file and the process
// environment into the settings of a replica.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid config")

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

type Config struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
	Store   string `yaml:"store"`

	Debounce  time.Duration `yaml:"debounce"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	Reconnect time.Duration `yaml:"reconnect"`
	PeerURL   string        `yaml:"peer_url"`

	// Retention is how many revisions the sqlite store keeps; zero keeps all of them.
	Retention      int     `yaml:"retention"`
	MaxMessageSize int64   `yaml:"max_message_size"`
	RateLimit      float64 `yaml:"rate_limit"`
	RateBurst      int     `yaml:"rate_burst"`
}

func Default() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8765,
		DataDir:        DefaultDataDir(),
		Store:          StoreFile,
		Debounce:       800 * time.Millisecond,
		Reconnect:      4 * time.Second,
		Retention:      500,
		MaxMessageSize: 1 << 20,
		RateLimit:      20,
		RateBurst:      40,
	}
}

// DefaultDataDir is the per-user application data directory for the current OS.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "sticky-notes")
		}
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "sticky-notes")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "sticky-notes")
		}
	}
	return filepath.Join(home, "sticky-notes")
}

// Load builds a Config from the defaults, the YAML file at path (if not empty), a .env
// file in the working directory (if present) and then the environment. Variables
// already set in the environment win over .env.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		if err := c.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := c.loadEnv(); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	loadEnvString(&c.Host, "WS_HOST")
	loadEnvString(&c.DataDir, "NOTESYNC_DATA_DIR")
	loadEnvString(&c.Store, "NOTESYNC_STORE")
	loadEnvString(&c.PeerURL, "NOTESYNC_PEER_URL")
	for _, err := range []error{
		loadEnvInt(&c.Port, "WS_PORT"),
		loadEnvDuration(&c.Debounce, "NOTESYNC_DEBOUNCE"),
		loadEnvDuration(&c.Heartbeat, "NOTESYNC_HEARTBEAT"),
		loadEnvDuration(&c.Reconnect, "NOTESYNC_RECONNECT"),
		loadEnvInt(&c.Retention, "NOTESYNC_RETENTION"),
		loadEnvInt64(&c.MaxMessageSize, "NOTESYNC_MAX_MESSAGE_SIZE"),
		loadEnvFloat(&c.RateLimit, "NOTESYNC_RATE_LIMIT"),
		loadEnvInt(&c.RateBurst, "NOTESYNC_RATE_BURST"),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func loadEnvString(target *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*target = v
	}
}

func loadEnvInt(target *int, key string) error {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v)
		}
		*target = n
	}
	return nil
}

func loadEnvInt64(target *int64, key string) error {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v)
		}
		*target = n
	}
	return nil
}

func loadEnvFloat(target *float64, key string) error {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, key, v)
		}
		*target = f
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string) error {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a duration", ErrInvalid, key, v)
		}
		*target = d
	}
	return nil
}

func (c Config) Validate() error {
	switch {
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port)
	case c.Store != StoreFile && c.Store != StoreSQLite:
		return fmt.Errorf("%w: store must be %q or %q, got %q", ErrInvalid, StoreFile, StoreSQLite, c.Store)
	case c.DataDir == "":
		return fmt.Errorf("%w: data dir is empty", ErrInvalid)
	case c.Debounce <= 0:
		return fmt.Errorf("%w: debounce must be positive", ErrInvalid)
	case c.Reconnect <= 0:
		return fmt.Errorf("%w: reconnect must be positive", ErrInvalid)
	case c.Heartbeat < 0:
		return fmt.Errorf("%w: heartbeat must not be negative", ErrInvalid)
	case c.Retention < 0:
		return fmt.Errorf("%w: retention must not be negative", ErrInvalid)
	case c.MaxMessageSize <= 0:
		return fmt.Errorf("%w: max message size must be positive", ErrInvalid)
	case c.RateLimit < 0:
		return fmt.Errorf("%w: rate limit must not be negative", ErrInvalid)
	case c.RateLimit > 0 && c.RateBurst < 1:
		return fmt.Errorf("%w: rate burst must be at least 1", ErrInvalid)
	}
	return nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PeerEndpoint is where a companion dials: PeerURL if set, otherwise the server on
// this machine.
func (c Config) PeerEndpoint() string {
	if c.PeerURL != "" {
		return c.PeerURL
	}
	host := c.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(c.Port)) + "/"
}
