package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/this-is-us/civicd/config"
)

type Store struct {
	DB *sql.DB
}

// Civic item processing statuses eligible for enrichment scans.
const (
	ItemStatusPending  = "pending"
	ItemStatusApproved = "approved"
	ItemStatusFlagged  = "flagged"
)

// CivicItem is one tracked legislative bill. The AI fields are written
// together by SaveSummary; AIAuthoritative is true only when the summary
// was generated from an authoritative text source.
type CivicItem struct {
	ID              string
	Source          string
	Jurisdiction    string
	BillNumber      string
	Session         string
	Chamber         string
	Title           string
	Summary         string
	FullText        string
	TextURL         string
	OpenStatesID    string
	Status          string
	AISummary       string
	AIKeyPoints     []string
	AISummaryNote   string
	AISummarySource string
	AIAuthoritative bool
	AIGeneratedAt   *time.Time
	LastScannedAt   *time.Time
	UpdatedAt       time.Time
}

// SummaryRecord is the generated summary payload persisted onto a civic item.
// Generated and Note travel with the text so a downgraded outcome (empty
// summary plus reason note) is stored the same way as a successful one.
type SummaryRecord struct {
	PlainSummary  string
	KeyPoints     []string
	Note          string
	Source        string
	Authoritative bool
	GeneratedAt   time.Time
}

// ListFilter narrows the pending-bill listing.
type ListFilter struct {
	Sources      []string
	Session      string
	Statuses     []string
	RescanCutoff time.Time
	Force        bool
	Limit        int
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// New constructs the Store from Postgres configuration and verifies
// connectivity.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

const civicItemColumns = `id, source, jurisdiction, bill_number, session, chamber,
       COALESCE(title,''), COALESCE(summary,''), COALESCE(full_text,''), COALESCE(text_url,''),
       COALESCE(open_states_id,''), status,
       COALESCE(ai_summary,''), COALESCE(ai_key_points,'{}'), COALESCE(ai_summary_note,''),
       COALESCE(ai_summary_source,''), COALESCE(ai_summary_authoritative,FALSE),
       ai_summary_generated_at, last_scanned_at, updated_at`

// GetCivicItem fetches one civic item by id. Bool indicates existence.
func (s *Store) GetCivicItem(ctx context.Context, id string) (CivicItem, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+civicItemColumns+` FROM civic_items WHERE id=$1`, id)
	item, err := scanCivicItem(row)
	if err == sql.ErrNoRows {
		return CivicItem{}, false, nil
	}
	if err != nil {
		return CivicItem{}, false, err
	}
	return item, true, nil
}

// ListPendingBills returns bills eligible for a scan pass. Unless Force is
// set, items scanned after RescanCutoff are skipped.
func (s *Store) ListPendingBills(ctx context.Context, f ListFilter) ([]CivicItem, error) {
	q := psql.Select(civicItemColumns).From("civic_items").OrderBy("updated_at DESC")
	if len(f.Sources) > 0 {
		q = q.Where(sq.Eq{"source": f.Sources})
	}
	if f.Session != "" {
		q = q.Where(sq.Eq{"session": f.Session})
	}
	if len(f.Statuses) > 0 {
		q = q.Where(sq.Eq{"status": f.Statuses})
	}
	if !f.Force && !f.RescanCutoff.IsZero() {
		q = q.Where(sq.Or{
			sq.Expr("last_scanned_at IS NULL"),
			sq.Lt{"last_scanned_at": f.RescanCutoff},
		})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending bills query: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CivicItem
	for rows.Next() {
		item, err := scanCivicItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// SaveSummary persists the generated summary fields in one statement so a
// partially written summary can never be observed.
func (s *Store) SaveSummary(ctx context.Context, itemID string, rec SummaryRecord) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE civic_items SET
  ai_summary               = $2,
  ai_key_points            = $3,
  ai_summary_note          = $4,
  ai_summary_source        = $5,
  ai_summary_authoritative = $6,
  ai_summary_generated_at  = $7,
  updated_at               = NOW()
WHERE id = $1
`, itemID, rec.PlainSummary, pq.Array(rec.KeyPoints), rec.Note, rec.Source, rec.Authoritative, rec.GeneratedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("civic item %s not found", itemID)
	}
	return nil
}

// MarkScanned records when a scan pass last touched the item.
func (s *Store) MarkScanned(ctx context.Context, itemID string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE civic_items SET last_scanned_at=$2 WHERE id=$1`, itemID, at)
	return err
}

// SetStatus moves the item through the review lifecycle.
func (s *Store) SetStatus(ctx context.Context, itemID, status string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE civic_items SET status=$2, updated_at=NOW() WHERE id=$1`, itemID, status)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCivicItem(row rowScanner) (CivicItem, error) {
	var item CivicItem
	err := row.Scan(
		&item.ID, &item.Source, &item.Jurisdiction, &item.BillNumber, &item.Session, &item.Chamber,
		&item.Title, &item.Summary, &item.FullText, &item.TextURL,
		&item.OpenStatesID, &item.Status,
		&item.AISummary, pq.Array(&item.AIKeyPoints), &item.AISummaryNote,
		&item.AISummarySource, &item.AIAuthoritative,
		&item.AIGeneratedAt, &item.LastScannedAt, &item.UpdatedAt,
	)
	return item, err
}
