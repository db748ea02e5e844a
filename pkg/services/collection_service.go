package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mediavault/mediavault/pkg/models"
)

// CollectionService manages tenant-scoped content groupings used as
// search filters.
type CollectionService struct {
	db *sqlx.DB
}

// NewCollectionService creates a new CollectionService.
func NewCollectionService(db *sqlx.DB) *CollectionService {
	return &CollectionService{db: db}
}

// Create adds a new empty collection. Names are unique per tenant.
func (s *CollectionService) Create(ctx context.Context, tenantID, name string) (*models.Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewValidationError("name", "required")
	}

	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM collections WHERE tenant_id = $1 AND name = $2)`,
		tenantID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection name: %w", err)
	}
	if exists {
		return nil, ErrAlreadyExists
	}

	collection := &models.Collection{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collections (id, tenant_id, name, created_at) VALUES ($1, $2, $3, $4)`,
		collection.ID, collection.TenantID, collection.Name, collection.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	return collection, nil
}

// Get returns one collection by id.
func (s *CollectionService) Get(ctx context.Context, tenantID, collectionID string) (*models.Collection, error) {
	var collection models.Collection
	err := s.db.GetContext(ctx, &collection,
		`SELECT id, tenant_id, name, created_at FROM collections WHERE tenant_id = $1 AND id = $2`,
		tenantID, collectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return &collection, nil
}

// List returns the tenant's collections, newest first.
func (s *CollectionService) List(ctx context.Context, tenantID string) ([]models.Collection, error) {
	collections := []models.Collection{}
	err := s.db.SelectContext(ctx, &collections,
		`SELECT id, tenant_id, name, created_at FROM collections
		 WHERE tenant_id = $1 ORDER BY created_at DESC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	return collections, nil
}

// Delete removes a collection. Memberships cascade; contents survive.
func (s *CollectionService) Delete(ctx context.Context, tenantID, collectionID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM collections WHERE tenant_id = $1 AND id = $2`,
		tenantID, collectionID)
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddContent records membership of a content in a collection.
// Adding twice is a no-op.
func (s *CollectionService) AddContent(ctx context.Context, tenantID, collectionID, contentID string) error {
	if _, err := s.Get(ctx, tenantID, collectionID); err != nil {
		return err
	}
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM content_vectors WHERE tenant_id = $1 AND content_id = $2)`,
		tenantID, contentID)
	if err != nil {
		return fmt.Errorf("failed to check content: %w", err)
	}
	if !exists {
		return ErrNotFound
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collection_contents (collection_id, content_id)
		 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		collectionID, contentID)
	if err != nil {
		return fmt.Errorf("failed to add content to collection: %w", err)
	}
	return nil
}

// RemoveContent removes a membership. Removing an absent membership is
// a no-op.
func (s *CollectionService) RemoveContent(ctx context.Context, tenantID, collectionID, contentID string) error {
	if _, err := s.Get(ctx, tenantID, collectionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM collection_contents WHERE collection_id = $1 AND content_id = $2`,
		collectionID, contentID)
	if err != nil {
		return fmt.Errorf("failed to remove content from collection: %w", err)
	}
	return nil
}

// ContentIDs returns the ids of the contents in a collection.
func (s *CollectionService) ContentIDs(ctx context.Context, tenantID, collectionID string) ([]string, error) {
	if _, err := s.Get(ctx, tenantID, collectionID); err != nil {
		return nil, err
	}
	ids := []string{}
	err := s.db.SelectContext(ctx, &ids,
		`SELECT content_id FROM collection_contents WHERE collection_id = $1 ORDER BY content_id`,
		collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection contents: %w", err)
	}
	return ids, nil
}
