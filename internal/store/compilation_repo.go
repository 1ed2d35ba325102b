package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/vitae-app/vitae/internal/domain"
)

// CompilationRepo handles persistence for CompilationRecord entries.
type CompilationRepo struct{}

// Record inserts a compilation record and returns its id.
func (r *CompilationRepo) Record(ctx context.Context, db *sql.DB, rec domain.CompilationRecord) (int64, error) {
	diags := rec.Diagnostics
	if diags == nil {
		diags = []domain.Diagnostic{}
	}
	diagJSON, err := json.Marshal(diags)
	if err != nil {
		return 0, domain.WrapEngineError(domain.ErrStoreWrite.Code, "encode diagnostics", err)
	}
	if rec.CreatedAt == "" {
		rec.CreatedAt = timestamp()
	}

	const q = `INSERT INTO compilations (document_id, success, artifact_path, diagnostics_json, error_count, warning_count, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := db.ExecContext(ctx, q,
		rec.DocumentID,
		rec.Success,
		rec.ArtifactPath,
		string(diagJSON),
		rec.ErrorCount,
		rec.WarningCount,
		rec.DurationMS,
		rec.CreatedAt,
	)
	if err != nil {
		return 0, domain.WrapEngineError(domain.ErrStoreWrite.Code, "record compilation", err)
	}
	return res.LastInsertId()
}

// ListByDocument returns up to limit records for a document, newest first.
// A non-positive limit returns all records.
func (r *CompilationRepo) ListByDocument(ctx context.Context, db *sql.DB, documentID string, limit int) ([]domain.CompilationRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	const q = `SELECT id, document_id, success, artifact_path, diagnostics_json, error_count, warning_count, duration_ms, created_at
FROM compilations
WHERE document_id = ?
ORDER BY id DESC
LIMIT ?`

	rows, err := db.QueryContext(ctx, q, documentID, limit)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "list compilations", err)
	}
	defer rows.Close()

	var records []domain.CompilationRecord
	for rows.Next() {
		var c domain.CompilationRecord
		var diagJSON string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Success, &c.ArtifactPath, &diagJSON,
			&c.ErrorCount, &c.WarningCount, &c.DurationMS, &c.CreatedAt); err != nil {
			return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "scan compilation", err)
		}
		if err := json.Unmarshal([]byte(diagJSON), &c.Diagnostics); err != nil {
			return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "decode diagnostics", err)
		}
		records = append(records, c)
	}
	return records, rows.Err()
}

// DeleteByDocument removes every record of a document.
func (r *CompilationRepo) DeleteByDocument(ctx context.Context, db *sql.DB, documentID string) error {
	return r.deleteByDocument(ctx, db, documentID)
}

// DeleteByDocumentTx removes every record of a document within an existing transaction.
func (r *CompilationRepo) DeleteByDocumentTx(ctx context.Context, tx *sql.Tx, documentID string) error {
	return r.deleteByDocument(ctx, tx, documentID)
}

func (r *CompilationRepo) deleteByDocument(ctx context.Context, db execer, documentID string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM compilations WHERE document_id = ?`, documentID); err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "delete compilations", err)
	}
	return nil
}
