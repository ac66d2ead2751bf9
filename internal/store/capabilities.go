package store

import "context"

// Capabilities describes which optional schema pieces exist in the connected
// database. Deployments migrate at different paces, so writes degrade to the
// columns that are actually present instead of failing.
type Capabilities struct {
	VerificationTable           bool
	VerificationStatusReason    bool
	VerificationStructuralFlags bool
	SponsorsTable               bool
	HotTopicsTables             bool
	DocumentCacheTable          bool
}

// Capabilities probes information_schema once at startup; the result is
// passed down rather than re-probed per write.
func (s *Store) Capabilities(ctx context.Context) (Capabilities, error) {
	var caps Capabilities
	var err error

	if caps.VerificationTable, err = s.hasTable(ctx, "civic_item_verification"); err != nil {
		return caps, err
	}
	if caps.VerificationTable {
		if caps.VerificationStatusReason, err = s.hasColumn(ctx, "civic_item_verification", "status_reason"); err != nil {
			return caps, err
		}
		if caps.VerificationStructuralFlags, err = s.hasColumn(ctx, "civic_item_verification", "structural_ok"); err != nil {
			return caps, err
		}
	}
	if caps.SponsorsTable, err = s.hasTable(ctx, "bill_sponsors"); err != nil {
		return caps, err
	}
	var topics, links bool
	if topics, err = s.hasTable(ctx, "hot_topics"); err != nil {
		return caps, err
	}
	if links, err = s.hasTable(ctx, "hot_topic_links"); err != nil {
		return caps, err
	}
	caps.HotTopicsTables = topics && links
	if caps.DocumentCacheTable, err = s.hasTable(ctx, "document_source_cache"); err != nil {
		return caps, err
	}
	return caps, nil
}

func (s *Store) hasTable(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `
SELECT EXISTS (
  SELECT 1 FROM information_schema.tables
  WHERE table_schema='public' AND table_name=$1
)`, table).Scan(&exists)
	return exists, err
}

func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `
SELECT EXISTS (
  SELECT 1 FROM information_schema.columns
  WHERE table_schema='public' AND table_name=$1 AND column_name=$2
)`, table, column).Scan(&exists)
	return exists, err
}
