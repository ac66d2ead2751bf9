package store

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestReplaceSponsorsDeletesThenInserts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM bill_sponsors WHERE civic_item_id=$1`)).
		WithArgs("item-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO bill_sponsors`)).
		WithArgs("item-1", "Smith", "primary", "house", "HD-07").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO bill_sponsors`)).
		WithArgs("item-1", "Jones", "cosponsor", "senate", "SD-03").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := s.ReplaceSponsors(context.Background(), "item-1", []Sponsor{
		{CivicItemID: "item-1", Name: "Smith", Role: "primary", Chamber: "house", District: "HD-07"},
		{CivicItemID: "item-1", Name: "Jones", Role: "cosponsor", Chamber: "senate", District: "SD-03"},
	})
	if err != nil {
		t.Fatalf("ReplaceSponsors: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestReplaceSponsorsRollsBackOnInsertFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM bill_sponsors`)).
		WithArgs("item-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO bill_sponsors`)).
		WillReturnError(errBoom{})
	mock.ExpectRollback()

	err := s.ReplaceSponsors(context.Background(), "item-1", []Sponsor{{Name: "Smith"}})
	if err == nil {
		t.Fatal("expected insert failure to surface")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSponsorCount(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM bill_sponsors`)).
		WithArgs("item-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := s.SponsorCount(context.Background(), "item-1")
	if err != nil {
		t.Fatalf("SponsorCount: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
