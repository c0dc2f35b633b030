package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Output   Output   `yaml:"output"`
	Pipeline Pipeline `yaml:"pipeline"`
	Fetch    Fetch    `yaml:"fetch"`
	Arxiv    Arxiv    `yaml:"arxiv"`
	Keywords Keywords `yaml:"keywords"`
	Store    Store    `yaml:"store"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
}

type Output struct {
	DataDir      string `yaml:"data_dir"`
	DownloadsDir string `yaml:"downloads_dir"`
	ImagesDir    string `yaml:"images_dir"`
	ResultsDir   string `yaml:"results_dir"`
}

type Pipeline struct {
	Concurrency     int           `yaml:"concurrency"`
	DigestChars     int           `yaml:"digest_chars"`
	MonitorInterval time.Duration `yaml:"monitor_interval"`
}

type Fetch struct {
	Timeout        time.Duration `yaml:"timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	UserAgent      string        `yaml:"user_agent"`
}

type Arxiv struct {
	BaseURL         string        `yaml:"base_url"`
	MaxResults      int           `yaml:"max_results"`
	RequestInterval time.Duration `yaml:"request_interval"`
}

type Keywords struct {
	Provider    string        `yaml:"provider"`
	Command     string        `yaml:"command"`
	Model       string        `yaml:"model"`
	OllamaURL   string        `yaml:"ollama_url"`
	OpenAIModel string        `yaml:"openai_model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTokens   int           `yaml:"max_tokens"`
}

type Store struct {
	Backend    string   `yaml:"backend"`
	SQLitePath string   `yaml:"sqlite_path"`
	Mongo      Mongo    `yaml:"mongo"`
	Postgres   Postgres `yaml:"postgres"`
}

type Mongo struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type Postgres struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// Error reports a missing or invalid configuration value.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// ConfigDir returns the XDG config directory for arxivharvester.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "arxivharvester")
}

// DataDir returns the XDG data directory for arxivharvester.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "arxivharvester")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/arxivharvester/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'arxivharvester init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file, then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Pipeline: Pipeline{
			Concurrency:     4,
			DigestChars:     1500,
			MonitorInterval: time.Second,
		},
		Fetch: Fetch{
			Timeout:        60 * time.Second,
			ConnectTimeout: 10 * time.Second,
			UserAgent:      "ArxivHarvester/1.0 (research pipeline)",
		},
		Arxiv: Arxiv{
			BaseURL:         "http://export.arxiv.org/api/query",
			MaxResults:      50,
			RequestInterval: 3 * time.Second,
		},
		Keywords: Keywords{
			Provider:    "command",
			Command:     "ollama",
			Model:       "gemma3:1b",
			OllamaURL:   "http://localhost:11434",
			OpenAIModel: "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			Timeout:     120 * time.Second,
			MaxTokens:   128,
		},
		Store: Store{
			Backend: "sqlite",
			Mongo: Mongo{
				Database:   "arxiv",
				Collection: "articulos",
			},
			Postgres: Postgres{Table: "records"},
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "info"},
	}
}

// Validate checks the values a pipeline needs before it can start.
func (c *Config) Validate() error {
	if c.Pipeline.Concurrency < 1 {
		return &Error{Field: "pipeline.concurrency", Reason: "must be at least 1"}
	}
	if c.Pipeline.DigestChars < 0 {
		return &Error{Field: "pipeline.digest_chars", Reason: "must not be negative"}
	}

	switch strings.ToLower(c.Keywords.Provider) {
	case "command", "ollama", "openai":
	default:
		return &Error{Field: "keywords.provider", Reason: fmt.Sprintf("unknown provider %q", c.Keywords.Provider)}
	}

	switch strings.ToLower(c.Store.Backend) {
	case "sqlite", "memory":
	case "mongo":
		if c.Store.Mongo.URI == "" {
			return &Error{Field: "store.mongo.uri", Reason: "required for mongo backend"}
		}
		if c.Store.Mongo.Database == "" || c.Store.Mongo.Collection == "" {
			return &Error{Field: "store.mongo", Reason: "database and collection are required"}
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return &Error{Field: "store.postgres.dsn", Reason: "required for postgres backend"}
		}
	default:
		return &Error{Field: "store.backend", Reason: fmt.Sprintf("unknown backend %q", c.Store.Backend)}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &Error{Field: "server.port", Reason: "out of range"}
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// GetDownloadsDir returns where fetched documents are written.
func (c *Config) GetDownloadsDir() string {
	return c.subDir(c.Output.DownloadsDir, "downloads")
}

// GetImagesDir returns the root for per-entry image directories.
func (c *Config) GetImagesDir() string {
	return c.subDir(c.Output.ImagesDir, "images")
}

// GetResultsDir returns where raw search result sets are saved.
func (c *Config) GetResultsDir() string {
	return c.subDir(c.Output.ResultsDir, "results")
}

// GetSQLitePath returns the sqlite database file path.
func (c *Config) GetSQLitePath() string {
	if c.Store.SQLitePath != "" {
		return c.Store.SQLitePath
	}
	return filepath.Join(c.GetDataDir(), "arxivharvester.db")
}

func (c *Config) subDir(explicit, name string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(c.GetDataDir(), name)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
