package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// notifyChannel is the LISTEN/NOTIFY channel carrying changed collection
// paths.
const notifyChannel = "storefront_documents"

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	path       TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_collection_idx ON documents (collection, path);
`

// PgDocumentStore is a PostgreSQL-backed DocumentStore. Documents are JSONB
// rows; every write issues a NOTIFY with the collection path and a listener
// connection fans those out to subscribers.
type PgDocumentStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	hub    *hub
}

// NewPgDocumentStore creates a new PostgreSQL document store.
func NewPgDocumentStore(pool *pgxpool.Pool, logger *zap.Logger) *PgDocumentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PgDocumentStore{pool: pool, logger: logger}
	s.hub = newHub(s.List)
	return s
}

// EnsureSchema creates the documents table if it does not exist.
func (s *PgDocumentStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create documents schema: %w", classifyPg(err))
	}
	return nil
}

// Listen holds a dedicated connection on the notify channel until ctx is
// done, waking subscribers of every changed collection.
func (s *PgDocumentStore) Listen(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", classifyPg(err))
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", notifyChannel, classifyPg(err))
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", classifyPg(err))
		}
		s.hub.notify(n.Payload)
	}
}

// Get returns the document at path.
func (s *PgDocumentStore) Get(ctx context.Context, p string) (Document, error) {
	if err := ValidatePath(p); err != nil {
		return Document{}, err
	}

	doc := Document{Path: p}
	err := s.pool.QueryRow(ctx,
		`SELECT data, updated_at FROM documents WHERE path = $1`, p,
	).Scan(&doc.Data, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return Document{}, fmt.Errorf("query document %s: %w", p, classifyPg(err))
	}
	return doc, nil
}

// Set replaces the document at path.
func (s *PgDocumentStore) Set(ctx context.Context, p string, data any) error {
	if err := ValidatePath(p); err != nil {
		return err
	}
	raw, err := marshalData(data)
	if err != nil {
		return err
	}
	return s.write(ctx, p, `
		INSERT INTO documents (path, collection, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		p, Collection(p), raw, time.Now().UTC(),
	)
}

// Merge sets top-level fields of the document at path using jsonb
// concatenation.
func (s *PgDocumentStore) Merge(ctx context.Context, p string, fields map[string]any) error {
	if err := ValidatePath(p); err != nil {
		return err
	}
	raw, err := marshalData(fields)
	if err != nil {
		return err
	}
	return s.write(ctx, p, `
		INSERT INTO documents (path, collection, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (path) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		p, Collection(p), raw, time.Now().UTC(),
	)
}

// Delete removes the document at path.
func (s *PgDocumentStore) Delete(ctx context.Context, p string) error {
	if err := ValidatePath(p); err != nil {
		return err
	}
	return s.write(ctx, p, `DELETE FROM documents WHERE path = $1`, p)
}

// write runs a statement and the change notification in one transaction,
// so subscribers are only woken for committed changes.
func (s *PgDocumentStore) write(ctx context.Context, p, sql string, args ...any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", classifyPg(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("write document %s: %w", p, classifyPg(err))
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, Collection(p)); err != nil {
		return fmt.Errorf("notify %s: %w", p, classifyPg(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", classifyPg(err))
	}
	return nil
}

// List returns the direct children of collection.
func (s *PgDocumentStore) List(ctx context.Context, collection string) ([]Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT path, data, updated_at FROM documents
		WHERE collection = $1
		ORDER BY path`, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, classifyPg(err))
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.Path, &d.Data, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, classifyPg(err))
	}
	return docs, nil
}

// Subscribe watches collection. Changes are only observed while Listen runs.
func (s *PgDocumentStore) Subscribe(ctx context.Context, collection string, fn SnapshotFunc) (func(), error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	return s.hub.subscribe(ctx, collection, fn)
}

// HealthCheck pings the database.
func (s *PgDocumentStore) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return classifyPg(err)
	}
	return nil
}

// Close stops every subscription. The pool is owned by the caller.
func (s *PgDocumentStore) Close() error {
	s.hub.close()
	return nil
}

// classifyPg maps driver errors onto the backend taxonomy.
func classifyPg(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42501": // insufficient_privilege
			return fmt.Errorf("%w: %v", ErrPermission, err)
		case "23505": // unique_violation
			return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
		case "22P02", "22023": // invalid_text_representation, invalid_parameter_value
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return err
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}
