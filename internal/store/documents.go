package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	database "github.com/Armour007/grc-assistant/internal"
)

const documentColumns = `id, file_name, file_type, file_size, storage_key, uploaded_by_id, created_at, updated_at`

type NewDocument struct {
	FileName     string
	FileType     string
	FileSize     int64
	StorageKey   string
	UploadedByID uuid.UUID
}

// ListDocuments returns every document, newest first, with the uploader's name.
func (s *Store) ListDocuments(ctx context.Context) ([]database.Document, error) {
	out := []database.Document{}
	err := s.db.SelectContext(ctx, &out,
		`SELECT d.id, d.file_name, d.file_type, d.file_size, d.storage_key, d.uploaded_by_id,
			d.created_at, d.updated_at, u.name AS uploader_name
		FROM documents d
		LEFT JOIN users u ON u.id = d.uploaded_by_id
		ORDER BY d.created_at DESC`)
	if err != nil {
		return nil, handleError(err)
	}
	for i := range out {
		if out[i].UploadedByID != nil {
			out[i].Uploader = &database.Uploader{Name: out[i].UploaderName}
		}
	}
	return out, nil
}

func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (database.Document, error) {
	var out database.Document
	err := s.db.GetContext(ctx, &out, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return out, handleError(err)
}

// CreateDocuments inserts all rows in one transaction.
func (s *Store) CreateDocuments(ctx context.Context, docs []NewDocument) (out []database.Document, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	out = make([]database.Document, 0, len(docs))
	for _, d := range docs {
		var row database.Document
		err = tx.GetContext(ctx, &row,
			`INSERT INTO documents (file_name, file_type, file_size, storage_key, uploaded_by_id)
			VALUES ($1, $2, $3, $4, $5) RETURNING `+documentColumns,
			d.FileName, d.FileType, d.FileSize, d.StorageKey, d.UploadedByID)
		if err != nil {
			return nil, handleError(err)
		}
		out = append(out, row)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return handleError(err)
	}
	return requireAffected(res)
}
