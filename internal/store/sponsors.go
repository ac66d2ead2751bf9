package store

import (
	"context"
	"fmt"
)

// Sponsor is one legislator attached to a bill.
type Sponsor struct {
	CivicItemID string
	Name        string
	Role        string
	Chamber     string
	District    string
}

// SponsorCount returns how many sponsors are recorded for the item.
func (s *Store) SponsorCount(ctx context.Context, itemID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM bill_sponsors WHERE civic_item_id=$1`, itemID).Scan(&n)
	return n, err
}

// ReplaceSponsors swaps the sponsor list in one transaction. The source feed
// is authoritative, so existing rows are deleted rather than merged.
func (s *Store) ReplaceSponsors(ctx context.Context, itemID string, sponsors []Sponsor) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bill_sponsors WHERE civic_item_id=$1`, itemID); err != nil {
		return fmt.Errorf("delete sponsors: %w", err)
	}
	for _, sp := range sponsors {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO bill_sponsors (civic_item_id, name, role, chamber, district)
VALUES ($1,$2,$3,$4,$5)
`, itemID, sp.Name, sp.Role, sp.Chamber, sp.District); err != nil {
			return fmt.Errorf("insert sponsor %q: %w", sp.Name, err)
		}
	}
	return tx.Commit()
}

// ListSponsors returns the recorded sponsors for a bill.
func (s *Store) ListSponsors(ctx context.Context, itemID string) ([]Sponsor, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT civic_item_id, name, COALESCE(role,''), COALESCE(chamber,''), COALESCE(district,'')
FROM bill_sponsors
WHERE civic_item_id=$1
ORDER BY name
`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sponsor
	for rows.Next() {
		var sp Sponsor
		if err := rows.Scan(&sp.CivicItemID, &sp.Name, &sp.Role, &sp.Chamber, &sp.District); err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}
