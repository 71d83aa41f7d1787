package access

import "context"

// Store describes persistence operations required by the resolution engine.
type Store interface {
	Accounts() AccountStore
	Institutions() InstitutionStore
	Orders() OrderStore
	Countries() CountryStore
	IPRanges() IPRangeStore
	Grants() GrantStore
}

// AccountStore manages accounts. The engine only reads accounts and resets
// their match state when a grant is revoked.
type AccountStore interface {
	Find(ctx context.Context, id string) (*Account, error)
	UpdateMatch(ctx context.Context, id string, by MatchedBy, status MatchStatus) error
}

// InstitutionStore is reference data for the matching strategies.
type InstitutionStore interface {
	Find(ctx context.Context, id string) (*Institution, error)
	FindByDomain(ctx context.Context, domain string) (*Institution, error)
	// FindByNameOrAlias matches the institution name or any alias,
	// case-insensitively and exactly.
	FindByNameOrAlias(ctx context.Context, name string) (*Institution, error)
}

// OrderStore lists order candidates; selection lives in OrderOracle.
type OrderStore interface {
	ForAccount(ctx context.Context, accountID string) ([]Order, error)
	ForInstitution(ctx context.Context, institutionID string) ([]Order, error)
}

// CountryStore resolves country policy records.
type CountryStore interface {
	Find(ctx context.Context, code string) (*Country, error)
}

// IPRangeStore owns the non-overlap invariant: Create and Update must reject
// a range that intersects a range belonging to a different institution,
// returning *OverlapError, and must do so atomically with the insert.
type IPRangeStore interface {
	FindByAddr(ctx context.Context, addr uint32) (*IPRange, error)
	List(ctx context.Context) ([]IPRange, error)
	Create(ctx context.Context, r *IPRange) error
	Update(ctx context.Context, r *IPRange) error
	Delete(ctx context.Context, id string) error
}

// GrantStore manages offsite access grants. FindByAccount drops an expired
// grant instead of returning it. Upsert is keyed by account id so concurrent
// creations for the same account cannot produce duplicates.
type GrantStore interface {
	FindByAccount(ctx context.Context, accountID string) (*TemporaryAccess, error)
	Upsert(ctx context.Context, g *TemporaryAccess) error
	DeleteByAccount(ctx context.Context, accountID string) error
}
