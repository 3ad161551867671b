// Package config loads rdpbridge settings from a YAML file, a .env file and
// the environment, in that order of precedence from lowest to highest.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Engine EngineConfig `yaml:"engine"`
	Client ClientConfig `yaml:"client"`
	Prompt PromptConfig `yaml:"prompt"`
	Log    LogConfig    `yaml:"log"`
}

type EngineConfig struct {
	// Address like "ws://127.0.0.1:4822/engine" or "tcp://127.0.0.1:4822".
	Address   string        `yaml:"address" env:"RDPBRIDGE_ENGINE_ADDRESS"`
	Timeout   time.Duration `yaml:"timeout" env:"RDPBRIDGE_ENGINE_TIMEOUT"`
	Recording string        `yaml:"recording" env:"RDPBRIDGE_ENGINE_RECORDING"`
	Debug     bool          `yaml:"debug" env:"RDPBRIDGE_ENGINE_DEBUG"`
}

type ClientConfig struct {
	Hostname    string `yaml:"hostname" env:"RDPBRIDGE_CLIENT_HOSTNAME"`
	StoragePath string `yaml:"storage_path" env:"RDPBRIDGE_STORAGE_PATH"`
}

// PromptConfig answers credential and certificate prompts when nobody is
// there to type.
type PromptConfig struct {
	Timeout            time.Duration `yaml:"timeout" env:"RDPBRIDGE_PROMPT_TIMEOUT"`
	AcceptCertificates bool          `yaml:"accept_certificates" env:"RDPBRIDGE_ACCEPT_CERTIFICATES"`
	Username           string        `yaml:"username" env:"RDPBRIDGE_USERNAME"`
	Domain             string        `yaml:"domain" env:"RDPBRIDGE_DOMAIN"`
	Password           string        `yaml:"password" env:"RDPBRIDGE_PASSWORD"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"RDPBRIDGE_LOG_LEVEL"`
	// Format is text or json.
	Format string `yaml:"format" env:"RDPBRIDGE_LOG_FORMAT"`
}

func Default() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		Engine: EngineConfig{
			Address: "tcp://127.0.0.1:4822",
			Timeout: 30 * time.Second,
		},
		Client: ClientConfig{
			Hostname: hostname,
		},
		Prompt: PromptConfig{
			Timeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load starts from Default, applies the YAML file at path when path is not
// empty, then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads environment variables from path. Missing files are
// ignored.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// NewLogger builds a slog logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if c.Level != "" {
		if err := level.UnmarshalText([]byte(c.Level)); err != nil {
			return nil, fmt.Errorf("config: log level: %w", err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(c.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("config: unknown log format %q", c.Format)
	}
}
