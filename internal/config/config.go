package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all tiermem configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Promotion PromotionConfig `yaml:"promotion"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Bind        string   `yaml:"bind" validate:"required"`
	Port        int      `yaml:"port" validate:"min=1,max=65535"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	Path   string `yaml:"path"` // sqlite file, resolved via store.DefaultDBPath() when empty
	DSN    string `yaml:"dsn" validate:"required_if=Driver postgres"`
}

type LLMConfig struct {
	Provider     string `yaml:"provider" validate:"oneof=anthropic ollama openai mock"`
	Model        string `yaml:"model"`
	AnthropicKey string `yaml:"anthropic_key"`
	OpenAIKey    string `yaml:"openai_key"`
	OpenAIURL    string `yaml:"openai_url"` // any OpenAI-compatible endpoint
	OllamaURL    string `yaml:"ollama_url"`
	OllamaModel  string `yaml:"ollama_model"`
}

// PromotionConfig tunes how sleep cycles treat the generation backend.
type PromotionConfig struct {
	OnGenerationError string `yaml:"on_generation_error" validate:"oneof=skip fail"`
	Retries           int    `yaml:"retries" validate:"min=0,max=10"`
	GenerateTimeout   int    `yaml:"generate_timeout" validate:"min=1"` // seconds, per call
	ArchiveMode       string `yaml:"archive_mode" validate:"oneof=watermark cumulative"`
}

type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		LLM: LLMConfig{
			Provider:    "ollama",
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "llama3.2",
		},
		Promotion: PromotionConfig{
			OnGenerationError: "skip",
			Retries:           1,
			GenerateTimeout:   120,
			ArchiveMode:       "watermark",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then .env, then environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	fileProvider := false

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// a missing config file just means defaults
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
			var named struct {
				LLM struct {
					Provider string `yaml:"provider"`
				} `yaml:"llm"`
			}
			if err := yaml.Unmarshal(data, &named); err == nil {
				fileProvider = named.LLM.Provider != ""
			}
		}
	}

	// .env is optional; variables already set in the environment win.
	_ = godotenv.Load()

	cfg.applyEnv(fileProvider)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables. fileProvider reports whether the
// config file named an LLM provider.
func (c *Config) applyEnv(fileProvider bool) {
	envStr("TIERMEM_BIND", &c.Server.Bind)
	envInt("TIERMEM_PORT", &c.Server.Port)
	envStr("TIERMEM_DB_DRIVER", &c.Database.Driver)
	envStr("TIERMEM_DB", &c.Database.Path)
	envStr("TIERMEM_DB_DSN", &c.Database.DSN)
	envStr("TIERMEM_LLM_PROVIDER", &c.LLM.Provider)
	envStr("TIERMEM_LLM_MODEL", &c.LLM.Model)
	envStr("OLLAMA_URL", &c.LLM.OllamaURL)
	envStr("OPENAI_BASE_URL", &c.LLM.OpenAIURL)
	envStr("TIERMEM_LOG_LEVEL", &c.Log.Level)

	// An API key in the environment selects its provider unless one was named
	// in the file or by TIERMEM_LLM_PROVIDER.
	explicit := fileProvider || os.Getenv("TIERMEM_LLM_PROVIDER") != ""
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.AnthropicKey = key
		if !explicit {
			c.LLM.Provider = "anthropic"
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.OpenAIKey = key
		if !explicit && c.LLM.AnthropicKey == "" {
			c.LLM.Provider = "openai"
		}
	}
}

var validate = validator.New()

// Validate checks field constraints and reports them as one readable error.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config validation: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("config validation: %s", strings.Join(msgs, "; "))
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// Timeout returns the per-call generation timeout.
func (p PromotionConfig) Timeout() time.Duration {
	return time.Duration(p.GenerateTimeout) * time.Second
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}
