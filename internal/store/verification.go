package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Verification check types and statuses.
const (
	CheckTypeStructural = "structural"
	CheckTypeAI         = "ai_review"

	VerificationStatusOK      = "ok"
	VerificationStatusFlagged = "flagged"
)

// VerificationRecord is the outcome of one review check for a civic item.
// One row exists per (civic_item_id, check_type); reruns overwrite.
//
// The four flag columns break the structural outcome into queryable
// booleans. They stay NULL on AI check rows, and HasWyomingSponsor stays
// NULL when sponsor data was unavailable for the run.
type VerificationRecord struct {
	CivicItemID       string
	CheckType         string
	Status            string
	StatusReason      string
	Issues            []string
	Confidence        float64
	IsWyoming         sql.NullBool
	HasSummary        sql.NullBool
	HasWyomingSponsor sql.NullBool
	StructuralOK      sql.NullBool
	CheckedAt         time.Time
}

// UpsertVerification writes the check outcome. The status_reason column is
// newer than the table itself; when the connected schema predates it the
// reason is folded into issues so nothing is lost.
func (s *Store) UpsertVerification(ctx context.Context, rec VerificationRecord, caps Capabilities) error {
	if !caps.VerificationTable {
		return fmt.Errorf("civic_item_verification table not present")
	}
	if rec.CheckedAt.IsZero() {
		rec.CheckedAt = time.Now().UTC()
	}

	if caps.VerificationStructuralFlags {
		_, err := s.DB.ExecContext(ctx, `
INSERT INTO civic_item_verification (civic_item_id, check_type, status, status_reason, issues, confidence,
  is_wyoming, has_summary, has_wyoming_sponsor, structural_ok, checked_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (civic_item_id, check_type) DO UPDATE SET
  status              = EXCLUDED.status,
  status_reason       = EXCLUDED.status_reason,
  issues              = EXCLUDED.issues,
  confidence          = EXCLUDED.confidence,
  is_wyoming          = EXCLUDED.is_wyoming,
  has_summary         = EXCLUDED.has_summary,
  has_wyoming_sponsor = EXCLUDED.has_wyoming_sponsor,
  structural_ok       = EXCLUDED.structural_ok,
  checked_at          = EXCLUDED.checked_at;
`, rec.CivicItemID, rec.CheckType, rec.Status, rec.StatusReason, pq.Array(rec.Issues), rec.Confidence,
			rec.IsWyoming, rec.HasSummary, rec.HasWyomingSponsor, rec.StructuralOK, rec.CheckedAt)
		return err
	}

	if caps.VerificationStatusReason {
		_, err := s.DB.ExecContext(ctx, `
INSERT INTO civic_item_verification (civic_item_id, check_type, status, status_reason, issues, confidence, checked_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (civic_item_id, check_type) DO UPDATE SET
  status        = EXCLUDED.status,
  status_reason = EXCLUDED.status_reason,
  issues        = EXCLUDED.issues,
  confidence    = EXCLUDED.confidence,
  checked_at    = EXCLUDED.checked_at;
`, rec.CivicItemID, rec.CheckType, rec.Status, rec.StatusReason, pq.Array(rec.Issues), rec.Confidence, rec.CheckedAt)
		return err
	}

	issues := rec.Issues
	if rec.StatusReason != "" && (len(issues) == 0 || issues[0] != rec.StatusReason) {
		issues = append([]string{rec.StatusReason}, issues...)
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO civic_item_verification (civic_item_id, check_type, status, issues, confidence, checked_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (civic_item_id, check_type) DO UPDATE SET
  status     = EXCLUDED.status,
  issues     = EXCLUDED.issues,
  confidence = EXCLUDED.confidence,
  checked_at = EXCLUDED.checked_at;
`, rec.CivicItemID, rec.CheckType, rec.Status, pq.Array(issues), rec.Confidence, rec.CheckedAt)
	return err
}

// GetVerification fetches the stored outcome for one check type. Bool
// indicates existence.
func (s *Store) GetVerification(ctx context.Context, itemID, checkType string, caps Capabilities) (VerificationRecord, bool, error) {
	if !caps.VerificationTable {
		return VerificationRecord{}, false, nil
	}

	var rec VerificationRecord
	var err error
	if caps.VerificationStructuralFlags {
		err = s.DB.QueryRowContext(ctx, `
SELECT civic_item_id, check_type, status, COALESCE(status_reason,''), COALESCE(issues,'{}'), confidence,
  is_wyoming, has_summary, has_wyoming_sponsor, structural_ok, checked_at
FROM civic_item_verification
WHERE civic_item_id=$1 AND check_type=$2
`, itemID, checkType).Scan(&rec.CivicItemID, &rec.CheckType, &rec.Status, &rec.StatusReason, pq.Array(&rec.Issues), &rec.Confidence,
			&rec.IsWyoming, &rec.HasSummary, &rec.HasWyomingSponsor, &rec.StructuralOK, &rec.CheckedAt)
	} else if caps.VerificationStatusReason {
		err = s.DB.QueryRowContext(ctx, `
SELECT civic_item_id, check_type, status, COALESCE(status_reason,''), COALESCE(issues,'{}'), confidence, checked_at
FROM civic_item_verification
WHERE civic_item_id=$1 AND check_type=$2
`, itemID, checkType).Scan(&rec.CivicItemID, &rec.CheckType, &rec.Status, &rec.StatusReason, pq.Array(&rec.Issues), &rec.Confidence, &rec.CheckedAt)
	} else {
		err = s.DB.QueryRowContext(ctx, `
SELECT civic_item_id, check_type, status, COALESCE(issues,'{}'), confidence, checked_at
FROM civic_item_verification
WHERE civic_item_id=$1 AND check_type=$2
`, itemID, checkType).Scan(&rec.CivicItemID, &rec.CheckType, &rec.Status, pq.Array(&rec.Issues), &rec.Confidence, &rec.CheckedAt)
	}
	if err == sql.ErrNoRows {
		return VerificationRecord{}, false, nil
	}
	if err != nil {
		return VerificationRecord{}, false, err
	}
	return rec, true, nil
}

// ListVerifications returns every stored check outcome for an item.
func (s *Store) ListVerifications(ctx context.Context, itemID string, caps Capabilities) ([]VerificationRecord, error) {
	if !caps.VerificationTable {
		return nil, nil
	}

	reasonCol := "''"
	if caps.VerificationStatusReason {
		reasonCol = "COALESCE(status_reason,'')"
	}
	flagCols := "NULL, NULL, NULL, NULL"
	if caps.VerificationStructuralFlags {
		flagCols = "is_wyoming, has_summary, has_wyoming_sponsor, structural_ok"
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT civic_item_id, check_type, status, `+reasonCol+`, COALESCE(issues,'{}'), confidence, `+flagCols+`, checked_at
FROM civic_item_verification
WHERE civic_item_id=$1
ORDER BY check_type
`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VerificationRecord
	for rows.Next() {
		var rec VerificationRecord
		if err := rows.Scan(&rec.CivicItemID, &rec.CheckType, &rec.Status, &rec.StatusReason, pq.Array(&rec.Issues), &rec.Confidence,
			&rec.IsWyoming, &rec.HasSummary, &rec.HasWyomingSponsor, &rec.StructuralOK, &rec.CheckedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
