package access

import (
	"context"
	"errors"
	"strings"
	"time"

	"medview.org/internal/ipindex"
)

// DefaultMatchOrder is the priority in which matching strategies are tried.
// Institutional email precedes plain email so a work address is not shadowed
// by a personal one. Override with WithMatchOrder.
var DefaultMatchOrder = []MatchedBy{
	MatchedByAdmin,
	MatchedByInstitutionalEmail,
	MatchedByEmail,
	MatchedByInstitutionName,
	MatchedByIP,
	MatchedByOffsiteAccess,
}

// candidate is the outcome of a successful locate step.
type candidate struct {
	institution *Institution
	grant       *TemporaryAccess // offsite matches only
}

// matcher associates an account with an institution via one signal.
// Locate returns nil when the signal yields nothing; Classify returns false
// to treat the match as void so the next strategy is tried. Matchers are
// stateless; per-resolution state travels in the outcome accumulator.
type matcher interface {
	Name() MatchedBy
	Locate(ctx context.Context, account *Account, now time.Time) (*candidate, error)
	Classify(out outcome, cand *candidate, account *Account, now time.Time) (outcome, bool)
}

// outcome is the immutable accumulator threaded through short-circuit checks,
// matchers and the final order check.
type outcome struct {
	result AccessType

	// skipInstitutionCheck suppresses the final institutional order lookup.
	skipInstitutionCheck bool
	// nonInstitutional marks a tier set by a short-circuit that matchers
	// must not override.
	nonInstitutional bool
	// skipMatching suppresses the matcher chain entirely (free countries).
	skipMatching bool
}

func (o outcome) withInstitution(inst *Institution, by MatchedBy, status MatchStatus) outcome {
	o.result.InstitutionID = inst.ID
	o.result.InstitutionName = inst.Name
	o.result.MatchedBy = by
	o.result.MatchStatus = status
	return o
}

// adminMatcher honours an administrative institution assignment.
type adminMatcher struct {
	institutions InstitutionStore
}

func (adminMatcher) Name() MatchedBy { return MatchedByAdmin }

func (m adminMatcher) Locate(ctx context.Context, account *Account, _ time.Time) (*candidate, error) {
	if account.InstitutionID == "" || account.MatchedBy != MatchedByAdmin {
		return nil, nil
	}
	inst, err := findInstitution(ctx, m.institutions, account.InstitutionID)
	if err != nil || inst == nil {
		return nil, err
	}
	return &candidate{institution: inst}, nil
}

func (adminMatcher) Classify(out outcome, cand *candidate, _ *Account, _ time.Time) (outcome, bool) {
	return out.withInstitution(cand.institution, MatchedByAdmin, MatchStatusAdmin), true
}

// emailMatcher keys off the domain of a verified-or-not email address.
// keyed selects the plain or institutional address.
type emailMatcher struct {
	institutions InstitutionStore
	name         MatchedBy
	address      func(*Account) string
	verifiedAt   func(*Account) *time.Time
}

func newEmailMatcher(institutions InstitutionStore) emailMatcher {
	return emailMatcher{
		institutions: institutions,
		name:         MatchedByEmail,
		address:      func(a *Account) string { return a.Email },
		verifiedAt:   func(a *Account) *time.Time { return a.EmailVerifiedAt },
	}
}

func newInstitutionalEmailMatcher(institutions InstitutionStore) emailMatcher {
	return emailMatcher{
		institutions: institutions,
		name:         MatchedByInstitutionalEmail,
		address:      func(a *Account) string { return a.InstitutionalEmail },
		verifiedAt:   func(a *Account) *time.Time { return a.InstEmailVerifiedAt },
	}
}

func (m emailMatcher) Name() MatchedBy { return m.name }

func (m emailMatcher) Locate(ctx context.Context, account *Account, _ time.Time) (*candidate, error) {
	domain := emailDomain(m.address(account))
	if domain == "" {
		return nil, nil
	}
	inst, err := m.institutions.FindByDomain(ctx, domain)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if inst == nil {
		return nil, nil
	}
	return &candidate{institution: inst}, nil
}

func (m emailMatcher) Classify(out outcome, cand *candidate, account *Account, now time.Time) (outcome, bool) {
	out = out.withInstitution(cand.institution, m.name, MatchStatusMatched)
	if out.nonInstitutional {
		return out, true
	}
	verified := m.verifiedAt(account)
	switch {
	case verified == nil:
		out.result.Tier = TierAwaitingEmailConfirmation
		out.result.RequestVerification = true
	case now.Sub(*verified) > EmailVerificationMaxAge:
		out.result.Tier = TierEmailConfirmationExpired
		out.result.RequestVerification = true
	}
	return out, true
}

// nameMatcher matches the self-declared institution name against names and
// aliases.
type nameMatcher struct {
	institutions InstitutionStore
}

func (nameMatcher) Name() MatchedBy { return MatchedByInstitutionName }

func (m nameMatcher) Locate(ctx context.Context, account *Account, _ time.Time) (*candidate, error) {
	name := strings.TrimSpace(account.InstitutionName)
	if name == "" {
		return nil, nil
	}
	inst, err := m.institutions.FindByNameOrAlias(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if inst == nil {
		return nil, nil
	}
	return &candidate{institution: inst}, nil
}

func (m nameMatcher) Classify(out outcome, cand *candidate, _ *Account, _ time.Time) (outcome, bool) {
	out = out.withInstitution(cand.institution, MatchedByInstitutionName, MatchStatusMatched)
	if !out.nonInstitutional && cand.institution.RestrictMatchByName {
		out.result.Tier = TierInstitutionNameOrAliasRestricted
	}
	return out, true
}

// ipMatcher resolves the current source address through the range index.
// A direct network match supersedes any offsite grant, so a stale grant is
// cleared on the spot.
type ipMatcher struct {
	institutions InstitutionStore
	ranges       IPRangeStore
	grants       GrantStore
}

func (ipMatcher) Name() MatchedBy { return MatchedByIP }

func (m ipMatcher) Locate(ctx context.Context, account *Account, _ time.Time) (*candidate, error) {
	inst, err := institutionForAddr(ctx, m.ranges, m.institutions, account.SourceIP)
	if err != nil || inst == nil {
		return nil, err
	}
	if err := m.grants.DeleteByAccount(ctx, account.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return &candidate{institution: inst}, nil
}

func (ipMatcher) Classify(out outcome, cand *candidate, _ *Account, _ time.Time) (outcome, bool) {
	return out.withInstitution(cand.institution, MatchedByIP, MatchStatusMatched), true
}

// offsiteMatcher applies an unexpired offsite grant, or mints one when an
// account that used to match by IP shows up from outside the institution's
// network while the institution still has a valid order.
type offsiteMatcher struct {
	institutions InstitutionStore
	ranges       IPRangeStore
	grants       GrantStore
	oracle       *OrderOracle
	newID        func() string
	warn         func(msg string, fields map[string]any)
	created      func()
}

func (offsiteMatcher) Name() MatchedBy { return MatchedByOffsiteAccess }

func (m offsiteMatcher) Locate(ctx context.Context, account *Account, now time.Time) (*candidate, error) {
	grant, err := m.grants.FindByAccount(ctx, account.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if grant != nil {
		inst, err := findInstitution(ctx, m.institutions, grant.InstitutionID)
		if err != nil || inst == nil {
			return nil, err
		}
		return &candidate{institution: inst, grant: grant}, nil
	}
	if account.MatchedBy != MatchedByIP {
		return nil, nil
	}
	inst, err := institutionForAddr(ctx, m.ranges, m.institutions, account.PrevSourceIP)
	if err != nil || inst == nil {
		return nil, err
	}
	ord, err := m.oracle.ApplicableForInstitution(ctx, inst.ID, account.Viewer, now)
	if err != nil {
		return nil, err
	}
	if ord == nil || !now.Before(ord.EndsAt) {
		return nil, nil
	}
	grant = &TemporaryAccess{
		ID:            m.newID(),
		AccountID:     account.ID,
		InstitutionID: inst.ID,
		SourceIP:      account.SourceIP,
		CreatedAt:     now,
		ExpiresAt:     now.Add(GrantTTL),
	}
	if err := m.grants.Upsert(ctx, grant); err != nil {
		// A missing grant only lowers the tier; resolution carries on.
		m.warn("offsite grant create failed", map[string]any{
			"account_id":     account.ID,
			"institution_id": inst.ID,
			"error":          err.Error(),
		})
		return nil, nil
	}
	if m.created != nil {
		m.created()
	}
	return &candidate{institution: inst, grant: grant}, nil
}

func (offsiteMatcher) Classify(out outcome, cand *candidate, _ *Account, _ time.Time) (outcome, bool) {
	out = out.withInstitution(cand.institution, MatchedByOffsiteAccess, MatchStatusMatched)
	if out.nonInstitutional {
		return out, true
	}
	out.result.ViaTemporaryIP = true
	expires := cand.grant.ExpiresAt
	out.result.SubscriptionExpiresAt = &expires
	return out, true
}

func emailDomain(addr string) string {
	addr = strings.TrimSpace(addr)
	at := strings.LastIndexByte(addr, '@')
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(addr[at+1:])
}

func findInstitution(ctx context.Context, store InstitutionStore, id string) (*Institution, error) {
	inst, err := store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return inst, nil
}

func institutionForAddr(ctx context.Context, ranges IPRangeStore, institutions InstitutionStore, source string) (*Institution, error) {
	addr, err := ipindex.ParseAddr(source)
	if err != nil {
		return nil, nil
	}
	r, err := ranges.FindByAddr(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if r == nil {
		return nil, nil
	}
	return findInstitution(ctx, institutions, r.InstitutionID)
}
