package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/opengov-gr/diavgeia-harvester/internal/entity"
	"github.com/opengov-gr/diavgeia-harvester/internal/store"
)

// RecordRepository stores published structured records. A record is only ever
// replaced whole, never patched field by field, so provenance stays auditable.
type RecordRepository interface {
	Replace(ctx context.Context, rec entity.StructuredRecord) error
	Get(ctx context.Context, ada string) (entity.StructuredRecord, error)
	List(ctx context.Context) ([]entity.StructuredRecord, error)
}

type recordRepo struct {
	db  *sql.DB
	log *slog.Logger
}

func NewRecordRepository(db *sql.DB, log *slog.Logger) RecordRepository {
	if log == nil {
		log = slog.Default()
	}
	return &recordRepo{db: db, log: log}
}

func (r *recordRepo) Replace(ctx context.Context, rec entity.StructuredRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return &store.StorageError{Op: "encode record", Err: err}
	}

	var docSHA string
	if rec.RawDocumentRef != nil {
		docSHA = rec.RawDocumentRef.SHA256
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO structured_records
			(ada, doc_sha256, completeness, issue_date, subject, organization_id, record_json, normalized_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (ada) DO UPDATE SET
			doc_sha256 = excluded.doc_sha256,
			completeness = excluded.completeness,
			issue_date = excluded.issue_date,
			subject = excluded.subject,
			organization_id = excluded.organization_id,
			record_json = excluded.record_json,
			normalized_at = excluded.normalized_at`,
		rec.ADA, docSHA, string(rec.Completeness),
		rec.IssueDate, rec.Subject, rec.OrganizationID,
		string(body), rec.NormalizedAt.UTC().Format(timeLayout))
	if err != nil {
		return &store.StorageError{Op: "replace record", Err: err}
	}

	r.log.Info("record.replaced", "ada", rec.ADA, "completeness", rec.Completeness)
	return nil
}

func (r *recordRepo) Get(ctx context.Context, ada string) (entity.StructuredRecord, error) {
	var body string
	err := r.db.QueryRowContext(ctx,
		`SELECT record_json FROM structured_records WHERE ada = $1`, ada).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.StructuredRecord{}, err
		}
		return entity.StructuredRecord{}, &store.StorageError{Op: "get record", Err: err}
	}

	var rec entity.StructuredRecord
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return entity.StructuredRecord{}, &store.StorageError{Op: "decode record", Err: err}
	}
	return rec, nil
}

func (r *recordRepo) List(ctx context.Context) ([]entity.StructuredRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT record_json FROM structured_records ORDER BY ada`)
	if err != nil {
		return nil, &store.StorageError{Op: "list records", Err: err}
	}
	defer rows.Close()

	var out []entity.StructuredRecord
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, &store.StorageError{Op: "list records", Err: err}
		}
		var rec entity.StructuredRecord
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, &store.StorageError{Op: "decode record", Err: err}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
