package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fixwise/internal/logging"
	"fixwise/internal/types"
)

// =============================================================================
// KNOWLEDGE DOCUMENTS & CHUNKS
// =============================================================================

// IngestDocument persists a pre-chunked document atomically. Chunk ordinals
// are assigned 0..n-1 in the order given, so they are contiguous and unique
// by construction; the UNIQUE(document_id, ordinal) constraint backstops it.
func (s *Store) IngestDocument(ctx context.Context, title string, docType types.DocumentType, language string, version int, chunks []string, machineTags, tags []string) (string, error) {
	if title == "" {
		return "", types.Validationf("document title is required")
	}
	if !docType.IsValid() {
		return "", types.Validationf("invalid document type %q", docType)
	}
	if len(chunks) == 0 {
		return "", types.Validationf("document must have at least one chunk")
	}
	if version <= 0 {
		version = 1
	}
	if language == "" {
		language = "en"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin ingest: %w", types.ErrStorageUnavailable)
	}
	defer tx.Rollback()

	docID := uuid.NewString()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, title, type, language, version, machine_tags, tags, chunk_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		docID, title, string(docType), language, version,
		marshalTags(machineTags), marshalTags(tags), len(chunks), fmtTime(time.Now()),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert document: %w", types.ErrStorageUnavailable)
	}

	for i, content := range chunks {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunks (id, document_id, ordinal, content) VALUES (?, ?, ?, ?)`,
			uuid.NewString(), docID, i, content,
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert chunk %d: %w", i, types.ErrStorageUnavailable)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit ingest: %w", types.ErrStorageUnavailable)
	}

	logging.Get(logging.CategoryStore).Infow("document ingested",
		"id", docID, "title", title, "type", string(docType), "chunks", len(chunks))
	return docID, nil
}

// Document loads one document by id.
func (s *Store) Document(ctx context.Context, id string) (*types.KnowledgeDocument, error) {
	var (
		doc                     types.KnowledgeDocument
		docType                 string
		machineTags, tags       string
		createdAt               string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, type, language, version, machine_tags, tags, chunk_count, created_at
		 FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &doc.Title, &docType, &doc.Language, &doc.Version, &machineTags, &tags, &doc.ChunkCount, &createdAt)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("document %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", types.ErrStorageUnavailable)
	}

	doc.Type = types.DocumentType(docType)
	doc.MachineTags = unmarshalTags(machineTags)
	doc.Tags = unmarshalTags(tags)
	if doc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument removes a document; its chunks cascade.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", types.ErrStorageUnavailable)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return types.NotFoundf("document %s", id)
	}
	return nil
}

// Chunks returns a document's chunks ordered by ordinal.
func (s *Store) Chunks(ctx context.Context, documentID string) ([]types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, ordinal, content FROM chunks WHERE document_id = ? ORDER BY ordinal`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", types.ErrStorageUnavailable)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// LoadCorpus returns every document and every chunk. The retrieval engine
// snapshots this into its in-memory index; ingestion and querying never
// share a write path.
func (s *Store) LoadCorpus(ctx context.Context) ([]types.KnowledgeDocument, []types.Chunk, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadCorpus")
	defer timer.Stop()

	docRows, err := s.db.QueryContext(ctx,
		`SELECT id, title, type, language, version, machine_tags, tags, chunk_count, created_at
		 FROM documents ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load documents: %w", types.ErrStorageUnavailable)
	}
	defer docRows.Close()

	var docs []types.KnowledgeDocument
	for docRows.Next() {
		var (
			doc               types.KnowledgeDocument
			docType           string
			machineTags, tags string
			createdAt         string
		)
		if err := docRows.Scan(&doc.ID, &doc.Title, &docType, &doc.Language, &doc.Version,
			&machineTags, &tags, &doc.ChunkCount, &createdAt); err != nil {
			return nil, nil, err
		}
		doc.Type = types.DocumentType(docType)
		doc.MachineTags = unmarshalTags(machineTags)
		doc.Tags = unmarshalTags(tags)
		if doc.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, nil, err
		}
		docs = append(docs, doc)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, err
	}

	chunkRows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, ordinal, content FROM chunks ORDER BY document_id, ordinal`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load chunks: %w", types.ErrStorageUnavailable)
	}
	defer chunkRows.Close()

	chunks, err := scanChunks(chunkRows)
	if err != nil {
		return nil, nil, err
	}
	return docs, chunks, nil
}

func scanChunks(rows *sql.Rows) ([]types.Chunk, error) {
	var chunks []types.Chunk
	for rows.Next() {
		var c types.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Content); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func marshalTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(tags)
	return string(data)
}

func unmarshalTags(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var tags []string
	_ = json.Unmarshal([]byte(raw), &tags)
	return tags
}
