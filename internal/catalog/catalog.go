// Package catalog indexes stored submissions in PostgreSQL. The filesystem
// stays authoritative; the catalog only answers reporting questions.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// errNotFound is returned by find for an id that was never recorded.
var errNotFound = errors.New("catalog: submission not found")

// Entry is one row of the submissions table.
type Entry struct {
	ID         string
	Name       string
	Age        string
	FileName   string
	SizeBytes  int64
	SHA256Hex  string
	PageCount  *int // nil when the PDF could not be parsed
	RemoteAddr string
	RequestID  string
	Mirrored   bool
	CreatedAt  time.Time
}

// Catalog writes and reads submission rows.
type Catalog struct {
	db     *sql.DB
	logger *zap.Logger
}

// New wraps an open pool. The schema must already be migrated.
func New(db *sql.DB, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{db: db, logger: logger.Named("catalog")}
}

const upsertQuery = `
	INSERT INTO submissions (
		id, name, age, file_name, size_bytes, sha256_hex,
		page_count, remote_addr, request_id, mirrored, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		age = EXCLUDED.age,
		file_name = EXCLUDED.file_name,
		size_bytes = EXCLUDED.size_bytes,
		sha256_hex = EXCLUDED.sha256_hex,
		page_count = EXCLUDED.page_count,
		remote_addr = EXCLUDED.remote_addr,
		request_id = EXCLUDED.request_id,
		mirrored = EXCLUDED.mirrored,
		created_at = EXCLUDED.created_at
`

// Record inserts e, replacing any row with the same id. A zero CreatedAt is
// set to now.
func (c *Catalog) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var pages sql.NullInt64
	if e.PageCount != nil {
		pages = sql.NullInt64{Int64: int64(*e.PageCount), Valid: true}
	}

	_, err := c.db.ExecContext(ctx, upsertQuery,
		e.ID,
		e.Name,
		e.Age,
		e.FileName,
		e.SizeBytes,
		e.SHA256Hex,
		pages,
		e.RemoteAddr,
		e.RequestID,
		e.Mirrored,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record submission %s: %w", e.ID, err)
	}

	c.logger.Debug("submission recorded", zap.String("id", e.ID), zap.Bool("mirrored", e.Mirrored))
	return nil
}

const findQuery = `
	SELECT id, name, age, file_name, size_bytes, sha256_hex,
	       page_count, remote_addr, request_id, mirrored, created_at
	FROM submissions
	WHERE id = $1
`

// find returns the row for id. The service itself only writes rows.
func (c *Catalog) find(ctx context.Context, id string) (Entry, error) {
	var (
		e     Entry
		pages sql.NullInt64
	)
	err := c.db.QueryRowContext(ctx, findQuery, id).Scan(
		&e.ID,
		&e.Name,
		&e.Age,
		&e.FileName,
		&e.SizeBytes,
		&e.SHA256Hex,
		&pages,
		&e.RemoteAddr,
		&e.RequestID,
		&e.Mirrored,
		&e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, errNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("find submission %s: %w", id, err)
	}

	if pages.Valid {
		n := int(pages.Int64)
		e.PageCount = &n
	}
	return e, nil
}

// Count returns the number of recorded submissions.
func (c *Catalog) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
