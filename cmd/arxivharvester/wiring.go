package main

import (
	"context"
	"fmt"

	"github.com/TobiSchelling/ArxivHarvester/internal/arxiv"
	"github.com/TobiSchelling/ArxivHarvester/internal/extract"
	"github.com/TobiSchelling/ArxivHarvester/internal/fetch"
	"github.com/TobiSchelling/ArxivHarvester/internal/keywords"
	"github.com/TobiSchelling/ArxivHarvester/internal/llm"
	"github.com/TobiSchelling/ArxivHarvester/internal/pipeline"
	"github.com/TobiSchelling/ArxivHarvester/internal/store"
)

func openStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, store.Options{
		Backend:         cfg.Store.Backend,
		SQLitePath:      cfg.GetSQLitePath(),
		MongoURI:        cfg.Store.Mongo.URI,
		MongoDatabase:   cfg.Store.Mongo.Database,
		MongoCollection: cfg.Store.Mongo.Collection,
		PostgresDSN:     cfg.Store.Postgres.DSN,
		PostgresTable:   cfg.Store.Postgres.Table,
		PoolSize:        cfg.Pipeline.Concurrency,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}

func newSearchClient() *arxiv.Client {
	return arxiv.NewClient(arxiv.ClientOptions{
		BaseURL:         cfg.Arxiv.BaseURL,
		ResultsDir:      cfg.GetResultsDir(),
		UserAgent:       cfg.Fetch.UserAgent,
		Timeout:         cfg.Fetch.Timeout,
		RequestInterval: cfg.Arxiv.RequestInterval,
	}, logger)
}

// newPipeline builds the stage implementations from config. The keyword
// provider is resolved once and shared by every job.
func newPipeline(st store.Store) (*pipeline.Pipeline, error) {
	provider := llm.CreateProvider(llm.Settings{
		Provider:    cfg.Keywords.Provider,
		Command:     cfg.Keywords.Command,
		Model:       cfg.Keywords.Model,
		OllamaURL:   cfg.Keywords.OllamaURL,
		OpenAIModel: cfg.Keywords.OpenAIModel,
		APIKeyEnv:   cfg.Keywords.APIKeyEnv,
	}, logger)

	return pipeline.New(pipeline.Stages{
		Fetcher: fetch.New(fetch.Options{
			Dir:            cfg.GetDownloadsDir(),
			Timeout:        cfg.Fetch.Timeout,
			ConnectTimeout: cfg.Fetch.ConnectTimeout,
			UserAgent:      cfg.Fetch.UserAgent,
		}, logger),
		Extractor: extract.New(cfg.GetImagesDir(), logger),
		Keywords:  keywords.NewGenerator(provider, cfg.Keywords.Timeout, cfg.Keywords.MaxTokens, logger),
		Store:     st,
	}, pipeline.Options{
		Concurrency: cfg.Pipeline.Concurrency,
		DigestChars: cfg.Pipeline.DigestChars,
	}, logger)
}
