package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mediavault/mediavault/pkg/embed"
	"github.com/mediavault/mediavault/pkg/models"
)

// Encoder produces a normalized dense vector for arbitrary text.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// MemoryService is the multi-tenant vector memory: it persists contents
// with their embeddings and per-entity vectors, and retrieves them by id,
// listing, cosine similarity, or source identity.
type MemoryService struct {
	db      *sqlx.DB
	encoder Encoder
}

// NewMemoryService creates a new MemoryService.
func NewMemoryService(db *sqlx.DB, encoder Encoder) *MemoryService {
	return &MemoryService{db: db, encoder: encoder}
}

// SearchableText builds the deterministic concatenation that the content
// embedding is computed from.
func SearchableText(c *models.Content) string {
	var b strings.Builder
	b.WriteString("Title: " + c.Title + "\n")
	b.WriteString("Summary: " + c.Summary + "\n")
	b.WriteString("Type: " + c.ContentType + "\n")
	b.WriteString("Topics: " + strings.Join(c.Topics, ", ") + "\n")
	b.WriteString("Key Points: " + strings.Join(c.KeyPoints, ", ") + "\n")

	names := make([]string, 0, len(c.Entities))
	for _, e := range c.Entities {
		names = append(names, e.Name)
	}
	b.WriteString("Entities: " + strings.Join(names, ", ") + "\n")
	b.WriteString("Action Items: " + strings.Join(c.ActionItems, ", ") + "\n")
	b.WriteString("Tags: " + strings.Join(c.Tags, ", ") + "\n")

	transcript := c.Transcript
	if len(transcript) > 1000 {
		transcript = transcript[:1000]
	}
	b.WriteString(transcript)
	return b.String()
}

// Add upserts the content by (tenant, content_id): computes the content
// embedding from the searchable text and replaces all entity vectors.
func (s *MemoryService) Add(ctx context.Context, content *models.Content) error {
	if content.ID == "" {
		return NewValidationError("content_id", "required")
	}
	if content.TenantID == "" {
		return NewValidationError("tenant_id", "required")
	}

	embedding, err := s.encoder.Encode(ctx, SearchableText(content))
	if err != nil {
		return fmt.Errorf("failed to embed content: %w", err)
	}

	entityVectors := make([]models.EntityVector, 0, len(content.Entities))
	for _, e := range content.Entities {
		if e.Name == "" {
			continue
		}
		vec, err := s.encoder.Encode(ctx, entityText(e))
		if err != nil {
			return fmt.Errorf("failed to embed entity %q: %w", e.Name, err)
		}
		entityVectors = append(entityVectors, models.EntityVector{
			TenantID:   content.TenantID,
			ContentID:  content.ID,
			EntityName: e.Name,
			EntityType: e.Type,
			Embedding:  vec,
		})
	}

	return s.write(ctx, content, embedding, entityVectors, true)
}

// Update replaces the stored content blob (used by out-of-band
// repair/backfill). The embedding is recomputed only when the searchable
// text changed.
func (s *MemoryService) Update(ctx context.Context, tenantID, contentID string, content *models.Content) error {
	existing, err := s.Get(ctx, tenantID, contentID)
	if err != nil {
		return err
	}
	content.ID = contentID
	content.TenantID = tenantID
	content.CreatedAt = existing.CreatedAt

	if SearchableText(existing) != SearchableText(content) {
		return s.Add(ctx, content)
	}
	return s.write(ctx, content, nil, nil, false)
}

func (s *MemoryService) write(ctx context.Context, content *models.Content, embedding []float32, entities []models.EntityVector, replaceEntities bool) error {
	content.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Re-ingestion keeps the original creation time, in the payload as
	// well as the row.
	var existingCreated time.Time
	err = tx.GetContext(ctx, &existingCreated,
		`SELECT created_at FROM content_vectors WHERE tenant_id = $1 AND content_id = $2`,
		content.TenantID, content.ID)
	switch {
	case err == nil:
		content.CreatedAt = existingCreated
	case errors.Is(err, sql.ErrNoRows):
		if content.CreatedAt.IsZero() {
			content.CreatedAt = content.UpdatedAt
		}
	default:
		return fmt.Errorf("failed to read existing content: %w", err)
	}

	payload, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to encode content payload: %w", err)
	}

	sourceKey := SourceKey(content.SourceURL)
	if embedding != nil {
		embeddingJSON, err := json.Marshal(embedding)
		if err != nil {
			return fmt.Errorf("failed to encode embedding: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO content_vectors
				(tenant_id, content_id, title, content_type, mode, source_url, source_key,
				 file_size_bytes, payload, embedding, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (tenant_id, content_id) DO UPDATE SET
				title = EXCLUDED.title,
				content_type = EXCLUDED.content_type,
				mode = EXCLUDED.mode,
				source_url = EXCLUDED.source_url,
				source_key = EXCLUDED.source_key,
				file_size_bytes = EXCLUDED.file_size_bytes,
				payload = EXCLUDED.payload,
				embedding = EXCLUDED.embedding,
				updated_at = EXCLUDED.updated_at`,
			content.TenantID, content.ID, content.Title, content.ContentType, content.Mode,
			content.SourceURL, sourceKey, content.FileSizeBytes, payload, embeddingJSON,
			content.CreatedAt, content.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert content: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE content_vectors
			SET title = $3, content_type = $4, mode = $5, source_url = $6, source_key = $7,
			    file_size_bytes = $8, payload = $9, updated_at = $10
			WHERE tenant_id = $1 AND content_id = $2`,
			content.TenantID, content.ID, content.Title, content.ContentType, content.Mode,
			content.SourceURL, sourceKey, content.FileSizeBytes, payload, content.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update content: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
	}

	if replaceEntities {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entity_vectors WHERE tenant_id = $1 AND content_id = $2`,
			content.TenantID, content.ID); err != nil {
			return fmt.Errorf("failed to clear entity vectors: %w", err)
		}
		for _, e := range entities {
			vecJSON, err := json.Marshal(e.Embedding)
			if err != nil {
				return fmt.Errorf("failed to encode entity embedding: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO entity_vectors (tenant_id, content_id, entity_name, entity_type, embedding)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (tenant_id, content_id, entity_name) DO UPDATE SET
					entity_type = EXCLUDED.entity_type,
					embedding = EXCLUDED.embedding`,
				e.TenantID, e.ContentID, e.EntityName, e.EntityType, vecJSON); err != nil {
				return fmt.Errorf("failed to insert entity vector: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit content write: %w", err)
	}
	return nil
}

func entityText(e models.Entity) string {
	if e.Description != "" {
		return e.Name + ": " + e.Description
	}
	return e.Name
}

// Get returns one content by id.
func (s *MemoryService) Get(ctx context.Context, tenantID, contentID string) (*models.Content, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload,
		`SELECT payload FROM content_vectors WHERE tenant_id = $1 AND content_id = $2`,
		tenantID, contentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get content: %w", err)
	}
	var content models.Content
	if err := json.Unmarshal(payload, &content); err != nil {
		return nil, fmt.Errorf("failed to decode content payload: %w", err)
	}
	return &content, nil
}

// List returns all contents for the tenant, newest first.
func (s *MemoryService) List(ctx context.Context, tenantID string) ([]*models.Content, error) {
	var payloads [][]byte
	err := s.db.SelectContext(ctx, &payloads,
		`SELECT payload FROM content_vectors WHERE tenant_id = $1 ORDER BY created_at DESC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contents: %w", err)
	}

	contents := make([]*models.Content, 0, len(payloads))
	for _, p := range payloads {
		var c models.Content
		if err := json.Unmarshal(p, &c); err != nil {
			return nil, fmt.Errorf("failed to decode content payload: %w", err)
		}
		contents = append(contents, &c)
	}
	return contents, nil
}

// Search ranks the tenant's contents by cosine similarity to the query.
// Collection scoping filters membership before ranking. The vector
// column is JSONB, so ranking happens in memory; a full scan is
// acceptable at the per-tenant scale this system targets.
func (s *MemoryService) Search(ctx context.Context, tenantID, query string, n int, contentType, collectionID string) ([]models.SearchResult, error) {
	if n <= 0 {
		n = 10
	}

	queryVec, err := s.encoder.Encode(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	sqlQuery := `SELECT cv.payload, cv.embedding FROM content_vectors cv`
	args := []any{tenantID}
	where := ` WHERE cv.tenant_id = $1 AND cv.embedding IS NOT NULL`
	if collectionID != "" {
		sqlQuery += ` JOIN collection_contents cc ON cc.content_id = cv.content_id`
		where += fmt.Sprintf(` AND cc.collection_id = $%d`, len(args)+1)
		args = append(args, collectionID)
	}
	if contentType != "" {
		where += fmt.Sprintf(` AND cv.content_type = $%d`, len(args)+1)
		args = append(args, contentType)
	}

	rows, err := s.db.QueryxContext(ctx, sqlQuery+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan contents for search: %w", err)
	}
	defer rows.Close()

	results := []models.SearchResult{}
	for rows.Next() {
		var payload, embeddingJSON []byte
		if err := rows.Scan(&payload, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		var vec []float32
		if err := json.Unmarshal(embeddingJSON, &vec); err != nil {
			continue
		}
		var content models.Content
		if err := json.Unmarshal(payload, &content); err != nil {
			continue
		}
		results = append(results, models.SearchResult{
			Content:    &content,
			Similarity: embed.Cosine(queryVec, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search rows: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > n {
		results = results[:n]
	}
	return results, nil
}

// FindBySourceURL returns the content id already stored for this source
// identity, applying the natural-identifier rule, or "" when absent.
func (s *MemoryService) FindBySourceURL(ctx context.Context, tenantID, url string) (string, error) {
	key := SourceKey(url)
	if key == "" {
		return "", nil
	}
	var contentID string
	err := s.db.GetContext(ctx, &contentID,
		`SELECT content_id FROM content_vectors WHERE tenant_id = $1 AND source_key = $2`,
		tenantID, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to look up source url: %w", err)
	}
	return contentID, nil
}

// Delete removes the content, its entity vectors, and its collection
// memberships.
func (s *MemoryService) Delete(ctx context.Context, tenantID, contentID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM content_vectors WHERE tenant_id = $1 AND content_id = $2`,
		tenantID, contentID)
	if err != nil {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entity_vectors WHERE tenant_id = $1 AND content_id = $2`,
		tenantID, contentID); err != nil {
		return fmt.Errorf("failed to delete entity vectors: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM collection_contents WHERE content_id = $1`, contentID); err != nil {
		return fmt.Errorf("failed to delete collection memberships: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit content delete: %w", err)
	}
	return nil
}

// EntityVectors returns the stored entity vectors for a content.
func (s *MemoryService) EntityVectors(ctx context.Context, tenantID, contentID string) ([]models.EntityVector, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT tenant_id, content_id, entity_name, entity_type, embedding
		 FROM entity_vectors WHERE tenant_id = $1 AND content_id = $2
		 ORDER BY entity_name`,
		tenantID, contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity vectors: %w", err)
	}
	defer rows.Close()

	vectors := []models.EntityVector{}
	for rows.Next() {
		var ev models.EntityVector
		var embeddingJSON []byte
		if err := rows.Scan(&ev.TenantID, &ev.ContentID, &ev.EntityName, &ev.EntityType, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan entity vector: %w", err)
		}
		if len(embeddingJSON) > 0 {
			_ = json.Unmarshal(embeddingJSON, &ev.Embedding)
		}
		vectors = append(vectors, ev)
	}
	return vectors, rows.Err()
}
