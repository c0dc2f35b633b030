package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps records in one Postgres table.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
	sb    sq.StatementBuilderType
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects with a pool of at most poolSize connections and
// creates the table when missing.
func OpenPostgres(ctx context.Context, dsn, table string, poolSize int) (*PostgresStore, error) {
	if table == "" {
		table = "records"
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &Error{Op: "open", Err: fmt.Errorf("parsing dsn: %w", err)}
	}
	cfg.MaxConns = int32(poolSize)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &Error{Op: "open", Err: fmt.Errorf("creating pool: %w", err)}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &Error{Op: "open", Err: fmt.Errorf("pinging postgres: %w", err)}
	}

	s := &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{table}.Sanitize(),
		sb:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, &Error{Op: "open", Err: err}
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id BIGSERIAL PRIMARY KEY,
    document_id TEXT UNIQUE,
    title TEXT NOT NULL DEFAULT '',
    authors TEXT[] NOT NULL DEFAULT '{}',
    summary TEXT NOT NULL DEFAULT '',
    published TEXT NOT NULL DEFAULT '',
    categories TEXT[] NOT NULL DEFAULT '{}',
    primary_category TEXT NOT NULL DEFAULT '',
    doi TEXT NOT NULL DEFAULT '',
    comment TEXT NOT NULL DEFAULT '',
    document_url TEXT NOT NULL DEFAULT '',
    source_reference TEXT NOT NULL DEFAULT '',
    full_text TEXT NOT NULL DEFAULT '',
    images TEXT[] NOT NULL DEFAULT '{}',
    keywords TEXT[] NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table))
	if err != nil {
		return fmt.Errorf("creating table: %w", err)
	}
	return nil
}

// Save upserts by document_id. Rows with a NULL document_id never conflict
// and are always inserted.
func (s *PostgresStore) Save(ctx context.Context, rec *Record) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	query, args, err := s.sb.Insert(s.table).
		Columns(recordColumns...).
		Values(
			nullable(rec.DocumentID), rec.Title, orEmpty(rec.Authors), rec.Summary, rec.Published,
			orEmpty(rec.Categories), rec.PrimaryCategory, rec.DOI, rec.Comment, rec.DocumentURL,
			rec.SourceReference, rec.FullText, orEmpty(rec.Images), orEmpty(rec.Keywords), created,
		).
		Suffix(upsertSuffix("document_id", recordColumns[1:])).
		ToSql()
	if err != nil {
		return &Error{Op: "save", Err: err}
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return &Error{Op: "save", Err: fmt.Errorf("acquiring connection: %w", err)}
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, query, args...); err != nil {
		return &Error{Op: "save", Err: err}
	}
	return nil
}

// Get returns the record with the given document id, or nil if none exists.
func (s *PostgresStore) Get(ctx context.Context, documentID string) (*Record, error) {
	query, args, err := s.sb.Select(append([]string{"id"}, recordColumns...)...).
		From(s.table).
		Where(sq.Eq{"document_id": documentID}).
		ToSql()
	if err != nil {
		return nil, &Error{Op: "get", Err: err}
	}

	rec, err := scanPostgres(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Op: "get", Err: err}
	}
	return rec, nil
}

// Recent returns up to limit records, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query, args, err := s.sb.Select(append([]string{"id"}, recordColumns...)...).
		From(s.table).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, &Error{Op: "recent", Err: err}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &Error{Op: "recent", Err: err}
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, &Error{Op: "recent", Err: err}
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "recent", Err: err}
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+s.table).Scan(&n); err != nil {
		return 0, &Error{Op: "count", Err: err}
	}
	return n, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgres(row pgx.Row) (*Record, error) {
	var (
		rec   Record
		docID *string
	)
	err := row.Scan(&rec.ID, &docID, &rec.Title, &rec.Authors, &rec.Summary, &rec.Published, &rec.Categories,
		&rec.PrimaryCategory, &rec.DOI, &rec.Comment, &rec.DocumentURL, &rec.SourceReference,
		&rec.FullText, &rec.Images, &rec.Keywords, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if docID != nil {
		rec.DocumentID = *docID
	}
	return &rec, nil
}
