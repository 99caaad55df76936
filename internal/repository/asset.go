package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"veriflow/internal/model"
)

type AssetRepository interface {
	ListBySession(ctx context.Context, sessionID string) ([]model.DocumentAsset, error)
	UpdateDocumentType(ctx context.Context, assetID string, docType model.DocumentType) error
}

type assetRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewAssetRepository(db *pgxpool.Pool, logger *zap.Logger) AssetRepository {
	return &assetRepository{db: db, logger: logger}
}

func (r *assetRepository) ListBySession(ctx context.Context, sessionID string) ([]model.DocumentAsset, error) {
	const query = `
		SELECT id, session_id, document_type, file_name, mime_type, file_size, file_url, object_key, created_at
		FROM document_assets
		WHERE session_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		r.logger.Error("failed to list assets", zap.Error(err), zap.String("session_id", sessionID))
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var assets []model.DocumentAsset
	for rows.Next() {
		var a model.DocumentAsset
		if err := rows.Scan(&a.ID, &a.SessionID, &a.DocumentType, &a.FileName, &a.MimeType, &a.FileSize, &a.FileURL, &a.ObjectKey, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// UpdateDocumentType records the classifier's one-shot correction. The guard
// keeps a declared or previously corrected type untouched.
func (r *assetRepository) UpdateDocumentType(ctx context.Context, assetID string, docType model.DocumentType) error {
	_, err := r.db.Exec(ctx, `
		UPDATE document_assets
		SET document_type = $1
		WHERE id = $2 AND document_type = ''
	`, docType, assetID)
	if err != nil {
		return fmt.Errorf("update document type: %w", err)
	}
	return nil
}
