package access

import (
	"context"
	"strings"
	"sync"
	"time"

	"medview.org/internal/ipindex"
)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and the no-DSN demo mode of cmd/api; production runs on store/pg.
type InMemory struct {
	mu           sync.RWMutex
	now          func() time.Time
	accounts     map[string]*Account
	institutions map[string]*Institution
	orders       map[string]*Order
	countries    map[string]*Country
	ranges       map[string]*IPRange
	grants       map[string]*TemporaryAccess // keyed by account id
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		now:          time.Now,
		accounts:     make(map[string]*Account),
		institutions: make(map[string]*Institution),
		orders:       make(map[string]*Order),
		countries:    make(map[string]*Country),
		ranges:       make(map[string]*IPRange),
		grants:       make(map[string]*TemporaryAccess),
	}
}

// SetClock overrides the time source used for grant expiry.
func (s *InMemory) SetClock(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

func (s *InMemory) Accounts() AccountStore         { return memAccounts{s} }
func (s *InMemory) Institutions() InstitutionStore { return memInstitutions{s} }
func (s *InMemory) Orders() OrderStore             { return memOrders{s} }
func (s *InMemory) Countries() CountryStore        { return memCountries{s} }
func (s *InMemory) IPRanges() IPRangeStore         { return memRanges{s} }
func (s *InMemory) Grants() GrantStore             { return memGrants{s} }

// Seed helpers. Each stores a copy.

func (s *InMemory) PutAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = &a
}

func (s *InMemory) PutInstitution(i Institution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.institutions[i.ID] = &i
}

func (s *InMemory) PutOrder(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = &o
}

func (s *InMemory) PutCountry(c Country) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countries[c.Code] = &c
}

func (s *InMemory) PutGrant(g TemporaryAccess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[g.AccountID] = &g
}

type memAccounts struct{ s *InMemory }

func (v memAccounts) Find(_ context.Context, id string) (*Account, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	a, ok := v.s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *a
	return &out, nil
}

func (v memAccounts) UpdateMatch(_ context.Context, id string, by MatchedBy, status MatchStatus) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	a, ok := v.s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.MatchedBy = by
	a.MatchStatus = status
	a.UpdatedAt = v.s.now().UTC()
	return nil
}

type memInstitutions struct{ s *InMemory }

func (v memInstitutions) Find(_ context.Context, id string) (*Institution, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	i, ok := v.s.institutions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *i
	return &out, nil
}

func (v memInstitutions) FindByDomain(_ context.Context, domain string) (*Institution, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	for _, i := range v.s.institutions {
		for _, d := range i.Domains {
			if strings.EqualFold(d, domain) {
				out := *i
				return &out, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (v memInstitutions) FindByNameOrAlias(_ context.Context, name string) (*Institution, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	for _, i := range v.s.institutions {
		if strings.EqualFold(i.Name, name) {
			out := *i
			return &out, nil
		}
		for _, alias := range i.Aliases {
			if strings.EqualFold(alias, name) {
				out := *i
				return &out, nil
			}
		}
	}
	return nil, ErrNotFound
}

type memOrders struct{ s *InMemory }

func (v memOrders) ForAccount(_ context.Context, accountID string) ([]Order, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []Order
	for _, o := range v.s.orders {
		if o.AccountID == accountID && accountID != "" {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (v memOrders) ForInstitution(_ context.Context, institutionID string) ([]Order, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []Order
	for _, o := range v.s.orders {
		if o.InstitutionID == institutionID && institutionID != "" {
			out = append(out, *o)
		}
	}
	return out, nil
}

type memCountries struct{ s *InMemory }

func (v memCountries) Find(_ context.Context, code string) (*Country, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	c, ok := v.s.countries[code]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

type memRanges struct{ s *InMemory }

func (v memRanges) FindByAddr(_ context.Context, addr uint32) (*IPRange, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	for _, r := range v.s.ranges {
		if r.Start <= addr && addr <= r.End {
			out := *r
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (v memRanges) List(_ context.Context) ([]IPRange, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]IPRange, 0, len(v.s.ranges))
	for _, r := range v.s.ranges {
		out = append(out, *r)
	}
	return out, nil
}

func (v memRanges) Create(ctx context.Context, r *IPRange) error {
	return v.put(r, "")
}

func (v memRanges) Update(ctx context.Context, r *IPRange) error {
	v.s.mu.RLock()
	_, ok := v.s.ranges[r.ID]
	v.s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return v.put(r, r.ID)
}

func (v memRanges) put(r *IPRange, excludeID string) error {
	if r.Start > r.End {
		return ErrInvalidInput
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.institutions[r.InstitutionID]; !ok {
		return ErrNotFound
	}
	existing := make([]ipindex.Range, 0, len(v.s.ranges))
	for _, cur := range v.s.ranges {
		if cur.ID == excludeID {
			continue
		}
		existing = append(existing, ipindex.Range{Start: cur.Start, End: cur.End, InstitutionID: cur.InstitutionID})
	}
	conflicts := ipindex.Conflicts(ipindex.Range{Start: r.Start, End: r.End, InstitutionID: r.InstitutionID}, existing, 3)
	if len(conflicts) > 0 {
		names := make([]string, 0, len(conflicts))
		for _, id := range conflicts {
			if inst, ok := v.s.institutions[id]; ok {
				names = append(names, inst.Name)
			} else {
				names = append(names, id)
			}
		}
		return &OverlapError{Institutions: names}
	}
	now := v.s.now().UTC()
	stored := *r
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	v.s.ranges[stored.ID] = &stored
	return nil
}

func (v memRanges) Delete(_ context.Context, id string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.ranges[id]; !ok {
		return ErrNotFound
	}
	delete(v.s.ranges, id)
	return nil
}

type memGrants struct{ s *InMemory }

func (v memGrants) FindByAccount(_ context.Context, accountID string) (*TemporaryAccess, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	g, ok := v.s.grants[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	if !v.s.now().Before(g.ExpiresAt) {
		delete(v.s.grants, accountID)
		return nil, ErrNotFound
	}
	out := *g
	return &out, nil
}

func (v memGrants) Upsert(_ context.Context, g *TemporaryAccess) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	stored := *g
	v.s.grants[g.AccountID] = &stored
	return nil
}

func (v memGrants) DeleteByAccount(_ context.Context, accountID string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	delete(v.s.grants, accountID)
	return nil
}

