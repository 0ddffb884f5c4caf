package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "configs/skillgate.json"

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Providers []ProviderConfig `json:"providers"`
	LLM       LLMConfig        `json:"llm"`
	Gateway   GatewayConfig    `json:"gateway"`
	Database  DatabaseConfig   `json:"database"`
	Actuator  ActuatorConfig   `json:"actuator"`
	Triggers  TriggersConfig   `json:"triggers"`
	Dispatch  DispatchConfig   `json:"dispatch"`
	SkillsDir string           `json:"skills_dir"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Models   []string          `json:"models,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// LLMConfig shapes the model capability handed to skills.
type LLMConfig struct {
	Model     string   `json:"model"`
	Timeout   Duration `json:"timeout"`
	Retries   int      `json:"retries"`
	Default   string   `json:"default_provider"`
	Fallbacks []string `json:"fallbacks,omitempty"`
	// Bindings maps a skill name to a provider ID.
	Bindings map[string]string `json:"bindings,omitempty"`
}

type GatewayConfig struct {
	InitialState   string               `json:"initial_state"`
	OnlineCommand  string               `json:"online_command"`
	OfflineCommand string               `json:"offline_command"`
	ReplyTimeout   Duration             `json:"reply_timeout"`
	Slack          SlackGatewayConfig   `json:"slack"`
	Discord        DiscordGatewayConfig `json:"discord"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

type DiscordGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN        string `json:"dsn"`
	Migrations string `json:"migrations"`
}

type RedisConfig struct {
	URL    string `json:"url"`
	Prefix string `json:"prefix"`
}

type ActuatorConfig struct {
	Shell         string   `json:"shell"`
	Timeout       Duration `json:"timeout"`
	Dir           string   `json:"dir"`
	NotifyCommand string   `json:"notify_command"`
}

type TriggersConfig struct {
	ClockInterval  Duration `json:"clock_interval"`
	IdleThreshold  Duration `json:"idle_threshold"`
	IdleMaxCPU     float64  `json:"idle_max_cpu"`
	TypingInterval Duration `json:"typing_interval"`
	TypingWindow   Duration `json:"typing_window"`
	MailInterval   Duration `json:"mail_interval"`
}

type DispatchConfig struct {
	SkillTimeout Duration `json:"skill_timeout"`
	Concurrency  int      `json:"concurrency"`
	HistorySize  int      `json:"history_size"`
}

// Duration is a time.Duration written as "20s" in JSON. Plain numbers are
// read as seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(val * float64(time.Second))
	case string:
		if val == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable references
// and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw config JSON.
func Parse(data []byte) (*Config, error) {
	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3210
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "sophia-sovereign-5.2"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = Duration(20 * time.Second)
	}
	if c.LLM.Retries == 0 {
		c.LLM.Retries = 3
	}
	if c.Gateway.InitialState == "" {
		c.Gateway.InitialState = "ONLINE"
	}
	if c.Gateway.ReplyTimeout == 0 {
		c.Gateway.ReplyTimeout = Duration(60 * time.Second)
	}
	if c.Database.Postgres.Migrations == "" {
		c.Database.Postgres.Migrations = "migrations"
	}
	if c.Actuator.Timeout == 0 {
		c.Actuator.Timeout = Duration(30 * time.Second)
	}
	if c.Triggers.ClockInterval == 0 {
		c.Triggers.ClockInterval = Duration(time.Minute)
	}
	if c.Triggers.IdleThreshold == 0 {
		c.Triggers.IdleThreshold = Duration(10 * time.Minute)
	}
	if c.Triggers.TypingInterval == 0 {
		c.Triggers.TypingInterval = Duration(30 * time.Second)
	}
	if c.Triggers.TypingWindow == 0 {
		c.Triggers.TypingWindow = Duration(time.Minute)
	}
	if c.Triggers.MailInterval == 0 {
		c.Triggers.MailInterval = Duration(30 * time.Second)
	}
	if c.Dispatch.SkillTimeout == 0 {
		c.Dispatch.SkillTimeout = Duration(45 * time.Second)
	}
	if c.Dispatch.HistorySize == 0 {
		c.Dispatch.HistorySize = 100
	}
}
