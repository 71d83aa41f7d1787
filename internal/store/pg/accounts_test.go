package pg

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"medview.org/internal/access"
)

var accountColumns = []string{
	"id", "email", "institutional_email", "institution_name", "institution_id",
	"role", "matched_by", "match_status", "source_ip", "prev_source_ip",
	"email_verified_at", "inst_email_verified_at", "country_code",
	"user_type", "specialty", "created_at", "updated_at",
}

func TestAccountFind(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select id, email, institutional_email").
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows(accountColumns).AddRow(
			"acc-1", "doc@gh.org", nil, nil, "inst-general",
			"", "ip", "matched", "10.0.0.7", "10.0.0.6",
			testTimestamp, nil, "US",
			"attending", nil, testTimestamp, testTimestamp,
		))

	a, err := NewStore(db).Accounts().Find(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if a.Email != "doc@gh.org" || a.InstitutionID != "inst-general" {
		t.Fatalf("got %+v", a)
	}
	if a.MatchedBy != access.MatchedByIP || a.MatchStatus != access.MatchStatusMatched {
		t.Fatalf("match state = %v/%v", a.MatchedBy, a.MatchStatus)
	}
	if a.EmailVerifiedAt == nil || !a.EmailVerifiedAt.Equal(testTimestamp) {
		t.Fatalf("email_verified_at = %v", a.EmailVerifiedAt)
	}
	if a.InstEmailVerifiedAt != nil {
		t.Fatalf("inst_email_verified_at = %v, want nil", a.InstEmailVerifiedAt)
	}
	if a.Viewer.UserType != "attending" {
		t.Fatalf("viewer = %+v", a.Viewer)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccountFindRejectsUnknownEnum(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select id, email, institutional_email").
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows(accountColumns).AddRow(
			"acc-1", "doc@gh.org", nil, nil, nil,
			"", "telepathy", "matched", nil, nil,
			nil, nil, nil,
			nil, nil, testTimestamp, testTimestamp,
		))

	if _, err := NewStore(db).Accounts().Find(context.Background(), "acc-1"); !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestAccountUpdateMatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update accounts").
		WithArgs("acc-1", "not_matched", "not_matched").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := NewStore(db).Accounts().UpdateMatch(context.Background(), "acc-1",
		access.MatchedByNone, access.MatchStatusNotMatched); err != nil {
		t.Fatalf("UpdateMatch: %v", err)
	}

	mock.ExpectExec("update accounts").
		WithArgs("acc-gone", "not_matched", "not_matched").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := NewStore(db).Accounts().UpdateMatch(context.Background(), "acc-gone",
		access.MatchedByNone, access.MatchStatusNotMatched); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
