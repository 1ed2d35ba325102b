package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/vitae-app/vitae/internal/domain"
)

// DefaultTemplate is the source given to newly created documents.
const DefaultTemplate = `\documentclass{article}
\usepackage[utf8]{inputenc}

\title{%TITLE%}
\author{}
\date{\today}

\begin{document}

\maketitle

\section{Introduction}

Start writing your document here...

\end{document}`

// DocumentRepo handles persistence for Document records.
type DocumentRepo struct{}

// Create inserts a new document with a fresh id and the default template.
func (r *DocumentRepo) Create(ctx context.Context, db *sql.DB, title string) (*domain.Document, error) {
	ts := timestamp()
	doc := domain.Document{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   strings.ReplaceAll(DefaultTemplate, "%TITLE%", title),
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	const q = `INSERT INTO documents (id, title, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, q, doc.ID, doc.Title, doc.Content, doc.CreatedAt, doc.UpdatedAt); err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreWrite.Code, "create document", err)
	}
	return &doc, nil
}

// Get retrieves a document by id.
func (r *DocumentRepo) Get(ctx context.Context, db *sql.DB, id string) (*domain.Document, error) {
	const q = `SELECT id, title, content, created_at, updated_at FROM documents WHERE id = ?`

	var d domain.Document
	err := db.QueryRowContext(ctx, q, id).Scan(&d.ID, &d.Title, &d.Content, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "get document", err)
	}
	return &d, nil
}

// Update replaces a document's content and bumps its updated_at.
func (r *DocumentRepo) Update(ctx context.Context, db *sql.DB, id, content string) error {
	const q = `UPDATE documents SET content = ?, updated_at = ? WHERE id = ?`
	return r.exec(ctx, db, "update document", q, content, timestamp(), id)
}

// Rename changes a document's title.
func (r *DocumentRepo) Rename(ctx context.Context, db *sql.DB, id, title string) error {
	const q = `UPDATE documents SET title = ?, updated_at = ? WHERE id = ?`
	return r.exec(ctx, db, "rename document", q, title, timestamp(), id)
}

const deleteDocumentSQL = `DELETE FROM documents WHERE id = ?`

// Delete removes a document.
func (r *DocumentRepo) Delete(ctx context.Context, db *sql.DB, id string) error {
	return r.exec(ctx, db, "delete document", deleteDocumentSQL, id)
}

// DeleteTx removes a document within an existing transaction.
func (r *DocumentRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id string) error {
	return r.exec(ctx, tx, "delete document", deleteDocumentSQL, id)
}

// List returns all documents, most recently updated first.
func (r *DocumentRepo) List(ctx context.Context, db *sql.DB) ([]domain.Document, error) {
	const q = `SELECT id, title, content, created_at, updated_at
FROM documents
ORDER BY updated_at DESC, rowid DESC`

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "list documents", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Content, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "scan document", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// exec runs a single-row write and maps zero affected rows to ErrDocumentNotFound.
func (r *DocumentRepo) exec(ctx context.Context, db execer, op, q string, args ...any) error {
	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "check rows affected", err)
	}
	if n == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}
