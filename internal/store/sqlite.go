package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

var recordColumns = []string{
	"document_id", "title", "authors", "summary", "published", "categories",
	"primary_category", "doi", "comment", "document_url", "source_reference",
	"full_text", "images", "keywords", "created_at",
}

// SQLiteStore keeps records in a local SQLite database.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite creates or opens a SQLite database at the given path. poolSize
// caps open connections; each Save borrows one for its duration.
func OpenSQLite(dbPath string, poolSize int) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &Error{Op: "open", Err: fmt.Errorf("creating data directory: %w", err)}
	}

	// Pragmas in the DSN apply to every pooled connection.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &Error{Op: "open", Err: fmt.Errorf("opening database: %w", err)}
	}
	if poolSize < 1 {
		poolSize = 1
	}
	conn.SetMaxOpenConns(poolSize)

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, &Error{Op: "open", Err: fmt.Errorf("migrating schema: %w", err)}
	}

	return &SQLiteStore{conn: conn, path: dbPath}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Save upserts rec by document id, or inserts it when it has none. NULL
// document ids never conflict, so one statement covers both cases.
func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	values, err := sqliteValues(rec)
	if err != nil {
		return &Error{Op: "save", Err: err}
	}

	query, args, err := sq.Insert("records").
		Columns(recordColumns...).
		Values(values...).
		Suffix(upsertSuffix("document_id", recordColumns[1:])).
		ToSql()
	if err != nil {
		return &Error{Op: "save", Err: err}
	}

	conn, err := s.conn.Conn(ctx)
	if err != nil {
		return &Error{Op: "save", Err: fmt.Errorf("acquiring connection: %w", err)}
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, query, args...); err != nil {
		return &Error{Op: "save", Err: err}
	}
	return nil
}

// Get returns the record with the given document id, or nil if none exists.
func (s *SQLiteStore) Get(ctx context.Context, documentID string) (*Record, error) {
	query, args, err := sq.Select(append([]string{"id"}, recordColumns...)...).
		From("records").
		Where(sq.Eq{"document_id": documentID}).
		ToSql()
	if err != nil {
		return nil, &Error{Op: "get", Err: err}
	}

	rec, err := scanRecord(s.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Op: "get", Err: err}
	}
	return rec, nil
}

// Recent returns up to limit records, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query, args, err := sq.Select(append([]string{"id"}, recordColumns...)...).
		From("records").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, &Error{Op: "recent", Err: err}
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &Error{Op: "recent", Err: err}
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
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
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		return 0, &Error{Op: "count", Err: err}
	}
	return n, nil
}

func sqliteValues(rec *Record) ([]any, error) {
	lists := make([]string, 0, 4)
	for _, l := range [][]string{rec.Authors, rec.Categories, rec.Images, rec.Keywords} {
		data, err := json.Marshal(orEmpty(l))
		if err != nil {
			return nil, fmt.Errorf("encoding list: %w", err)
		}
		lists = append(lists, string(data))
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	return []any{
		nullable(rec.DocumentID), rec.Title, lists[0], rec.Summary, rec.Published, lists[1],
		rec.PrimaryCategory, rec.DOI, rec.Comment, rec.DocumentURL, rec.SourceReference,
		rec.FullText, lists[2], lists[3], created.UTC().Format(timeLayout),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec                              Record
		docID                            sql.NullString
		authors, categories, images, kws string
		created                          string
	)
	err := row.Scan(&rec.ID, &docID, &rec.Title, &authors, &rec.Summary, &rec.Published, &categories,
		&rec.PrimaryCategory, &rec.DOI, &rec.Comment, &rec.DocumentURL, &rec.SourceReference,
		&rec.FullText, &images, &kws, &created)
	if err != nil {
		return nil, err
	}

	rec.DocumentID = docID.String
	for _, f := range []struct {
		raw string
		dst *[]string
	}{{authors, &rec.Authors}, {categories, &rec.Categories}, {images, &rec.Images}, {kws, &rec.Keywords}} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("decoding list: %w", err)
		}
	}
	if t, err := time.Parse(timeLayout, created); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}

func upsertSuffix(key string, cols []string) string {
	set := ""
	for i, c := range cols {
		if i > 0 {
			set += ", "
		}
		set += c + " = excluded." + c
	}
	return "ON CONFLICT (" + key + ") DO UPDATE SET " + set
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
