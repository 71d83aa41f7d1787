package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"medview.org/internal/access"
)

type orders struct{ db *sql.DB }

const orderColumns = `id, institution_id, account_id, starts_at, ends_at, order_type,
	status, deleted, restricted_user_types, restricted_specialties,
	custom_institution_name, location_id, created_at`

func (v orders) ForAccount(ctx context.Context, accountID string) ([]access.Order, error) {
	rows, err := v.db.QueryContext(ctx, `
		select `+orderColumns+`
		from orders
		where account_id = $1
		order by ends_at, created_at, id
	`, accountID)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

func (v orders) ForInstitution(ctx context.Context, institutionID string) ([]access.Order, error) {
	rows, err := v.db.QueryContext(ctx, `
		select `+orderColumns+`
		from orders
		where institution_id = $1
		order by ends_at, created_at, id
	`, institutionID)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]access.Order, error) {
	defer rows.Close()
	var out []access.Order
	for rows.Next() {
		var (
			o                      access.Order
			instID, accountID      sql.NullString
			orderType              string
			userTypes, specialties []byte
			customName, location   sql.NullString
		)
		if err := rows.Scan(&o.ID, &instID, &accountID, &o.StartsAt, &o.EndsAt, &orderType,
			&o.Status, &o.Deleted, &userTypes, &specialties,
			&customName, &location, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.InstitutionID = instID.String
		o.AccountID = accountID.String
		o.CustomInstitutionName = customName.String
		o.LocationID = location.String
		var err error
		if o.Type, err = access.ParseOrderType(orderType); err != nil {
			return nil, fmt.Errorf("order %s: %w", o.ID, err)
		}
		if len(userTypes) > 0 {
			if err := json.Unmarshal(userTypes, &o.RestrictedUserTypes); err != nil {
				return nil, fmt.Errorf("order %s: decode restricted_user_types: %w", o.ID, err)
			}
		}
		if len(specialties) > 0 {
			if err := json.Unmarshal(specialties, &o.RestrictedSpecialties); err != nil {
				return nil, fmt.Errorf("order %s: decode restricted_specialties: %w", o.ID, err)
			}
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type countries struct{ db *sql.DB }

func (v countries) Find(ctx context.Context, code string) (*access.Country, error) {
	var (
		c           access.Country
		restriction string
	)
	err := v.db.QueryRowContext(ctx, `
		select code, name, article_restriction
		from countries
		where code = $1
	`, code).Scan(&c.Code, &c.Name, &restriction)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.Restriction, err = access.ParseRestriction(restriction); err != nil {
		return nil, fmt.Errorf("country %s: %w", code, err)
	}
	return &c, nil
}
