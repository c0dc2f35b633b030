// Package store persists enriched records. Every backend upserts by document
// id and always inserts records that have none.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/ArxivHarvester/internal/arxiv"
)

// Record is the persisted form of an entry after enrichment.
type Record struct {
	ID              int64     `json:"id,omitempty" bson:"-"`
	DocumentID      string    `json:"document_id,omitempty" bson:"document_id,omitempty"`
	Title           string    `json:"title" bson:"title"`
	Authors         []string  `json:"authors" bson:"authors"`
	Summary         string    `json:"summary" bson:"summary"`
	Published       string    `json:"published" bson:"published"`
	Categories      []string  `json:"categories" bson:"categories"`
	PrimaryCategory string    `json:"primary_category,omitempty" bson:"primary_category,omitempty"`
	DOI             string    `json:"doi,omitempty" bson:"doi,omitempty"`
	Comment         string    `json:"comment,omitempty" bson:"comment,omitempty"`
	DocumentURL     string    `json:"document_url,omitempty" bson:"document_url,omitempty"`
	SourceReference string    `json:"source_reference" bson:"source_reference"`
	FullText        string    `json:"full_text" bson:"full_text"`
	Images          []string  `json:"images" bson:"images"`
	Keywords        []string  `json:"keywords" bson:"keywords"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at"`
}

// NewRecord folds an entry and its enrichment into a Record stamped with the
// current UTC time.
func NewRecord(e arxiv.Entry, text string, images, keywords []string) *Record {
	return &Record{
		DocumentID:      e.DocumentID,
		Title:           e.Title,
		Authors:         orEmpty(e.Authors),
		Summary:         e.Summary,
		Published:       e.Published,
		Categories:      orEmpty(e.Categories),
		PrimaryCategory: e.PrimaryCategory,
		DOI:             e.DOI,
		Comment:         e.Comment,
		DocumentURL:     e.DocumentURL,
		SourceReference: e.SourceReference,
		FullText:        text,
		Images:          orEmpty(images),
		Keywords:        orEmpty(keywords),
		CreatedAt:       time.Now().UTC(),
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append([]string(nil), s...)
}

// Store is implemented by every backend. Save must be safe for concurrent use.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, documentID string) (*Record, error)
	Recent(ctx context.Context, limit int) ([]Record, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Error wraps any backend failure: connectivity, constraint or encoding.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options selects and configures a backend.
type Options struct {
	Backend         string
	SQLitePath      string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	PostgresDSN     string
	PostgresTable   string
	// PoolSize bounds open connections; set it to the pipeline concurrency.
	PoolSize int
}

// Open connects to the configured backend.
func Open(ctx context.Context, opts Options, log *zap.Logger) (Store, error) {
	if opts.PoolSize < 1 {
		opts.PoolSize = 1
	}
	log = log.Named("store")

	var (
		s   Store
		err error
	)
	switch strings.ToLower(opts.Backend) {
	case "", "sqlite":
		log.Info("opening sqlite store", zap.String("path", opts.SQLitePath))
		s, err = OpenSQLite(opts.SQLitePath, opts.PoolSize)
	case "mongo":
		log.Info("opening mongo store", zap.String("database", opts.MongoDatabase), zap.String("collection", opts.MongoCollection))
		s, err = OpenMongo(ctx, opts.MongoURI, opts.MongoDatabase, opts.MongoCollection, opts.PoolSize)
	case "postgres":
		log.Info("opening postgres store", zap.String("table", opts.PostgresTable))
		s, err = OpenPostgres(ctx, opts.PostgresDSN, opts.PostgresTable, opts.PoolSize)
	case "memory":
		s = NewMemory()
	default:
		err = &Error{Op: "open", Err: fmt.Errorf("unknown backend %q", opts.Backend)}
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
