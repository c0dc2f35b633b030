package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "ARXIVHARVESTER"

// envOverrides lists the settings that can be replaced from the environment.
// Zero values mean "not set" and leave the file value untouched.
type envOverrides struct {
	DataDir         string        `envconfig:"DATA_DIR"`
	Concurrency     int           `envconfig:"CONCURRENCY"`
	FetchTimeout    time.Duration `envconfig:"FETCH_TIMEOUT"`
	KeywordProvider string        `envconfig:"KEYWORDS_PROVIDER"`
	KeywordModel    string        `envconfig:"KEYWORDS_MODEL"`
	StoreBackend    string        `envconfig:"STORE_BACKEND"`
	SQLitePath      string        `envconfig:"SQLITE_PATH"`
	MongoURI        string        `envconfig:"MONGO_URI"`
	MongoDatabase   string        `envconfig:"MONGO_DATABASE"`
	PostgresDSN     string        `envconfig:"POSTGRES_DSN"`
	ServerPort      int           `envconfig:"SERVER_PORT"`
	LogLevel        string        `envconfig:"LOG_LEVEL"`
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	setString(&cfg.Output.DataDir, env.DataDir)
	setString(&cfg.Keywords.Provider, env.KeywordProvider)
	setString(&cfg.Keywords.Model, env.KeywordModel)
	setString(&cfg.Store.Backend, env.StoreBackend)
	setString(&cfg.Store.SQLitePath, env.SQLitePath)
	setString(&cfg.Store.Mongo.URI, env.MongoURI)
	setString(&cfg.Store.Mongo.Database, env.MongoDatabase)
	setString(&cfg.Store.Postgres.DSN, env.PostgresDSN)
	setString(&cfg.Logging.Level, env.LogLevel)

	if env.Concurrency != 0 {
		cfg.Pipeline.Concurrency = env.Concurrency
	}
	if env.FetchTimeout != 0 {
		cfg.Fetch.Timeout = env.FetchTimeout
	}
	if env.ServerPort != 0 {
		cfg.Server.Port = env.ServerPort
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
