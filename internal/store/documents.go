package store

import (
	"context"
	"database/sql"
	"time"
)

// DocumentSource is a cached resolution result for one bill document kind.
// A row with an empty URL records that resolution was attempted and found
// nothing, so repeat scans skip the probe until the entry goes stale.
// LastError keeps the final failure of the attempt that produced a miss.
type DocumentSource struct {
	CivicItemID string
	Kind        string
	URL         string
	ContentType string
	ResolvedVia string
	LastError   string
	CheckedAt   time.Time
}

// GetDocumentSource fetches the cached resolution for one item and document
// kind. Bool indicates existence.
func (s *Store) GetDocumentSource(ctx context.Context, itemID, kind string) (DocumentSource, bool, error) {
	var doc DocumentSource
	err := s.DB.QueryRowContext(ctx, `
SELECT civic_item_id, kind, COALESCE(url,''), COALESCE(content_type,''), COALESCE(resolved_via,''), COALESCE(last_error,''), checked_at
FROM document_source_cache
WHERE civic_item_id=$1 AND kind=$2
`, itemID, kind).Scan(&doc.CivicItemID, &doc.Kind, &doc.URL, &doc.ContentType, &doc.ResolvedVia, &doc.LastError, &doc.CheckedAt)
	if err == sql.ErrNoRows {
		return DocumentSource{}, false, nil
	}
	if err != nil {
		return DocumentSource{}, false, err
	}
	return doc, true, nil
}

// UpsertDocumentSource writes through the resolution cache keyed on
// (civic_item_id, kind).
func (s *Store) UpsertDocumentSource(ctx context.Context, doc DocumentSource) error {
	if doc.CheckedAt.IsZero() {
		doc.CheckedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO document_source_cache (civic_item_id, kind, url, content_type, resolved_via, last_error, checked_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (civic_item_id, kind) DO UPDATE SET
  url          = EXCLUDED.url,
  content_type = EXCLUDED.content_type,
  resolved_via = EXCLUDED.resolved_via,
  last_error   = EXCLUDED.last_error,
  checked_at   = EXCLUDED.checked_at;
`, doc.CivicItemID, doc.Kind, doc.URL, doc.ContentType, doc.ResolvedVia, doc.LastError, doc.CheckedAt)
	return err
}
