package pg

import (
	"context"
	"database/sql"
	"errors"

	"medview.org/internal/access"
)

type grants struct{ db *sql.DB }

func (v grants) FindByAccount(ctx context.Context, accountID string) (*access.TemporaryAccess, error) {
	// Expired grants are reaped on read; absence is the steady state.
	if _, err := v.db.ExecContext(ctx, `
		delete from temporary_accesses
		where account_id = $1 and expires_at <= now()
	`, accountID); err != nil {
		return nil, err
	}
	var g access.TemporaryAccess
	var sourceIP sql.NullString
	err := v.db.QueryRowContext(ctx, `
		select id, account_id, institution_id, source_ip, created_at, expires_at
		from temporary_accesses
		where account_id = $1
	`, accountID).Scan(&g.ID, &g.AccountID, &g.InstitutionID, &sourceIP, &g.CreatedAt, &g.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.SourceIP = sourceIP.String
	return &g, nil
}

func (v grants) Upsert(ctx context.Context, g *access.TemporaryAccess) error {
	_, err := v.db.ExecContext(ctx, `
		insert into temporary_accesses (id, account_id, institution_id, source_ip, created_at, expires_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (account_id) do update
		set institution_id = excluded.institution_id,
		    source_ip = excluded.source_ip,
		    created_at = excluded.created_at,
		    expires_at = excluded.expires_at
	`, g.ID, g.AccountID, g.InstitutionID, nullIfEmpty(g.SourceIP), g.CreatedAt, g.ExpiresAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return access.ErrNotFound
		}
		return err
	}
	return nil
}

func (v grants) DeleteByAccount(ctx context.Context, accountID string) error {
	_, err := v.db.ExecContext(ctx, `
		delete from temporary_accesses where account_id = $1
	`, accountID)
	return err
}
