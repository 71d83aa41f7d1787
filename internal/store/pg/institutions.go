package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"medview.org/internal/access"
)

type institutions struct{ db *sql.DB }

const institutionColumns = `id, name, aliases, domains, restrict_match_by_name, created_at, updated_at`

func (v institutions) Find(ctx context.Context, id string) (*access.Institution, error) {
	row := v.db.QueryRowContext(ctx, `
		select `+institutionColumns+`
		from institutions
		where id = $1
	`, id)
	return scanInstitution(row)
}

func (v institutions) FindByDomain(ctx context.Context, domain string) (*access.Institution, error) {
	row := v.db.QueryRowContext(ctx, `
		select `+institutionColumns+`
		from institutions
		where exists (
			select 1 from jsonb_array_elements_text(domains) d
			where lower(d) = lower($1)
		)
		limit 1
	`, domain)
	return scanInstitution(row)
}

func (v institutions) FindByNameOrAlias(ctx context.Context, name string) (*access.Institution, error) {
	row := v.db.QueryRowContext(ctx, `
		select `+institutionColumns+`
		from institutions
		where lower(name) = lower($1)
		   or exists (
			select 1 from jsonb_array_elements_text(aliases) a
			where lower(a) = lower($1)
		   )
		limit 1
	`, name)
	return scanInstitution(row)
}

func scanInstitution(row *sql.Row) (*access.Institution, error) {
	var (
		inst             access.Institution
		aliases, domains []byte
	)
	err := row.Scan(&inst.ID, &inst.Name, &aliases, &domains, &inst.RestrictMatchByName, &inst.CreatedAt, &inst.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(aliases) > 0 {
		if err := json.Unmarshal(aliases, &inst.Aliases); err != nil {
			return nil, fmt.Errorf("decode aliases: %w", err)
		}
	}
	if len(domains) > 0 {
		if err := json.Unmarshal(domains, &inst.Domains); err != nil {
			return nil, fmt.Errorf("decode domains: %w", err)
		}
	}
	return &inst, nil
}
