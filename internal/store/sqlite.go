package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/waste-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	mime_type   TEXT NOT NULL DEFAULT '',
	content     BLOB,
	status      TEXT NOT NULL DEFAULT 'uploaded',
	uploaded_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS results (
	document_id  TEXT PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
	status       TEXT NOT NULL,
	confidence   REAL NOT NULL DEFAULT 0,
	model_path   TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT '',
	failure_kind TEXT NOT NULL DEFAULT '',
	result       TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_uploaded_at ON documents(uploaded_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *model.Document) (*model.Document, error) {
	out := *doc
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	out.Status = model.DocumentUploaded
	out.UploadedAt, out.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, filename, mime_type, content, status, uploaded_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.Filename, out.MimeType, out.Content, string(out.Status), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert document")
	}
	return &out, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var d model.Document
	err := s.db.QueryRowContext(ctx,
		`SELECT id, filename, mime_type, content, status, uploaded_at, updated_at FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.Filename, &d.MimeType, &d.Content, &d.Status, &d.UploadedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("document", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document %s", id)
	}
	return &d, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error) {
	query := `SELECT id, filename, mime_type, status, uploaded_at, updated_at FROM documents WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY uploaded_at DESC LIMIT ?`
	args = append(args, filter.limit())
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.MimeType, &d.Status, &d.UploadedAt, &d.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update document status %s", id)
	}
	return checkRowsAffected(res, "document", id)
}

func (s *SQLiteStore) SaveResult(ctx context.Context, documentID string, res *model.ProcessingResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	upd, err := tx.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		string(model.DocumentStatusFor(res.Status)), now, documentID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update document status %s", documentID)
	}
	if err := checkRowsAffected(upd, "document", documentID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO results (document_id, status, confidence, model_path, reason, failure_kind, result, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (document_id) DO UPDATE SET
		   status = excluded.status, confidence = excluded.confidence, model_path = excluded.model_path,
		   reason = excluded.reason, failure_kind = excluded.failure_kind, result = excluded.result,
		   created_at = excluded.created_at`,
		documentID, string(res.Status), res.Confidence, res.ModelPath, res.Reason, string(res.FailureKind), string(data), now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert result %s", documentID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit result")
}

func (s *SQLiteStore) GetResult(ctx context.Context, documentID string) (*model.ProcessingResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM results WHERE document_id = ?`, documentID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("result", documentID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get result %s", documentID)
	}
	var res model.ProcessingResult
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal result")
	}
	return &res, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}
