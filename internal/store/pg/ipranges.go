package pg

import (
	"context"
	"database/sql"
	"errors"

	"medview.org/internal/access"
)

// ipRangeLockID serialises every IP range write through one advisory lock,
// closing the check-then-insert race between concurrent writers. The
// overlap check and the insert commit or fail together.
const ipRangeLockID int64 = 0x6d76_6970_726e_6773

type ipRanges struct{ db *sql.DB }

func (v ipRanges) FindByAddr(ctx context.Context, addr uint32) (*access.IPRange, error) {
	var r access.IPRange
	var start, end int64
	err := v.db.QueryRowContext(ctx, `
		select id, range_start, range_end, institution_id, created_at, updated_at
		from ip_ranges
		where range_start <= $1 and range_end >= $1
		limit 1
	`, int64(addr)).Scan(&r.ID, &start, &end, &r.InstitutionID, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Start = uint32(start)
	r.End = uint32(end)
	return &r, nil
}

func (v ipRanges) List(ctx context.Context) ([]access.IPRange, error) {
	rows, err := v.db.QueryContext(ctx, `
		select id, range_start, range_end, institution_id, created_at, updated_at
		from ip_ranges
		order by range_start
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []access.IPRange
	for rows.Next() {
		var r access.IPRange
		var start, end int64
		if err := rows.Scan(&r.ID, &start, &end, &r.InstitutionID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Start = uint32(start)
		r.End = uint32(end)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (v ipRanges) Create(ctx context.Context, r *access.IPRange) error {
	return v.write(ctx, r, `
		insert into ip_ranges (id, range_start, range_end, institution_id)
		values ($1, $2, $3, $4)
	`)
}

func (v ipRanges) Update(ctx context.Context, r *access.IPRange) error {
	return v.write(ctx, r, `
		update ip_ranges
		set range_start = $2, range_end = $3, institution_id = $4, updated_at = now()
		where id = $1
	`)
}

func (v ipRanges) write(ctx context.Context, r *access.IPRange, stmt string) error {
	if r.Start > r.End {
		return access.ErrInvalidInput
	}
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, ipRangeLockID); err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `
		select distinct i.name
		from ip_ranges r
		join institutions i on i.id = r.institution_id
		where r.institution_id <> $1
		  and r.id <> $2
		  and r.range_start <= $4
		  and r.range_end >= $3
		order by i.name
		limit 3
	`, r.InstitutionID, r.ID, int64(r.Start), int64(r.End))
	if err != nil {
		return err
	}
	var conflicts []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		conflicts = append(conflicts, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	if len(conflicts) > 0 {
		return &access.OverlapError{Institutions: conflicts}
	}

	res, err := tx.ExecContext(ctx, stmt, r.ID, int64(r.Start), int64(r.End), r.InstitutionID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return access.ErrConflict
			case pgErrForeignKeyViolation:
				return access.ErrNotFound
			}
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return access.ErrNotFound
	}
	return tx.Commit()
}

func (v ipRanges) Delete(ctx context.Context, id string) error {
	res, err := v.db.ExecContext(ctx, `delete from ip_ranges where id = $1`, id)
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
