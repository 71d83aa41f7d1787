package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"medview.org/internal/access"
)

type accounts struct{ db *sql.DB }

func (v accounts) Find(ctx context.Context, id string) (*access.Account, error) {
	var (
		a                           access.Account
		instEmail, instName, instID sql.NullString
		sourceIP, prevIP, country   sql.NullString
		matchedBy, matchStatus      string
		emailVerified, instVerified sql.NullTime
		userType, specialty         sql.NullString
	)
	err := v.db.QueryRowContext(ctx, `
		select id, email, institutional_email, institution_name, institution_id,
		       role, matched_by, match_status, source_ip, prev_source_ip,
		       email_verified_at, inst_email_verified_at, country_code,
		       user_type, specialty, created_at, updated_at
		from accounts
		where id = $1
	`, id).Scan(&a.ID, &a.Email, &instEmail, &instName, &instID,
		&a.Role, &matchedBy, &matchStatus, &sourceIP, &prevIP,
		&emailVerified, &instVerified, &country,
		&userType, &specialty, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.InstitutionalEmail = instEmail.String
	a.InstitutionName = instName.String
	a.InstitutionID = instID.String
	a.SourceIP = sourceIP.String
	a.PrevSourceIP = prevIP.String
	a.CountryCode = country.String
	a.Viewer = access.ViewerAttrs{UserType: userType.String, Specialty: specialty.String}
	if emailVerified.Valid {
		t := emailVerified.Time
		a.EmailVerifiedAt = &t
	}
	if instVerified.Valid {
		t := instVerified.Time
		a.InstEmailVerifiedAt = &t
	}
	if a.MatchedBy, err = access.ParseMatchedBy(matchedBy); err != nil {
		return nil, fmt.Errorf("account %s: %w", id, err)
	}
	if a.MatchStatus, err = access.ParseMatchStatus(matchStatus); err != nil {
		return nil, fmt.Errorf("account %s: %w", id, err)
	}
	return &a, nil
}

func (v accounts) UpdateMatch(ctx context.Context, id string, by access.MatchedBy, status access.MatchStatus) error {
	res, err := v.db.ExecContext(ctx, `
		update accounts
		set matched_by = $2, match_status = $3, updated_at = now()
		where id = $1
	`, id, by.String(), status.String())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return access.ErrNotFound
	}
	return nil
}
