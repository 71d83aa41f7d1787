package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medview.org/internal/ids"
	"medview.org/internal/obs"
)

// Engine is the resolution coordinator. It establishes a country-driven
// baseline, applies the short-circuit checks, runs the matching strategies
// in priority order and finalises institutional tiers against the order
// oracle. The engine is stateless; every call computes a fresh AccessType.
type Engine struct {
	store    Store
	oracle   *OrderOracle
	order    []MatchedBy
	matchers map[MatchedBy]matcher
	now      func() time.Time
	newID    func() string
	warn     func(msg string, fields map[string]any)
}

// Option configures Engine behavior.
type Option func(*Engine) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) error {
		if fn != nil {
			e.now = fn
		}
		return nil
	}
}

// WithMatchOrder overrides DefaultMatchOrder. Every entry must name a known
// strategy and appear at most once.
func WithMatchOrder(order []MatchedBy) Option {
	return func(e *Engine) error {
		if len(order) == 0 {
			return errors.New("access: match order is empty")
		}
		seen := make(map[MatchedBy]struct{}, len(order))
		for _, name := range order {
			if name == MatchedByNone {
				return fmt.Errorf("access: %q is not a strategy", name)
			}
			if _, dup := seen[name]; dup {
				return fmt.Errorf("access: duplicate strategy %q", name)
			}
			seen[name] = struct{}{}
		}
		e.order = append([]MatchedBy(nil), order...)
		return nil
	}
}

// WithIDFunc overrides grant id generation.
func WithIDFunc(fn func() string) Option {
	return func(e *Engine) error {
		if fn != nil {
			e.newID = fn
		}
		return nil
	}
}

// WithWarnFunc overrides where swallowed failures are reported.
func WithWarnFunc(fn func(msg string, fields map[string]any)) Option {
	return func(e *Engine) error {
		if fn != nil {
			e.warn = fn
		}
		return nil
	}
}

// NewEngine constructs the coordinator over the given store.
func NewEngine(store Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("access: store is required")
	}
	e := &Engine{
		store:  store,
		oracle: NewOrderOracle(store.Orders()),
		order:  DefaultMatchOrder,
		now:    time.Now,
		newID:  ids.New,
		warn: func(msg string, fields map[string]any) {
			obs.LogEvent("warn", msg, fields)
		},
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	institutions := store.Institutions()
	ranges := store.IPRanges()
	grants := store.Grants()
	e.matchers = map[MatchedBy]matcher{
		MatchedByAdmin:              adminMatcher{institutions: institutions},
		MatchedByEmail:              newEmailMatcher(institutions),
		MatchedByInstitutionalEmail: newInstitutionalEmailMatcher(institutions),
		MatchedByInstitutionName:    nameMatcher{institutions: institutions},
		MatchedByIP:                 ipMatcher{institutions: institutions, ranges: ranges, grants: grants},
		MatchedByOffsiteAccess: offsiteMatcher{
			institutions: institutions,
			ranges:       ranges,
			grants:       grants,
			oracle:       e.oracle,
			newID:        e.newID,
			warn:         e.warn,
			created:      obs.RecordGrantCreated,
		},
	}
	for _, name := range e.order {
		if _, ok := e.matchers[name]; !ok {
			return nil, fmt.Errorf("access: unknown strategy %q in match order", name)
		}
	}
	return e, nil
}

// ResolveRequest identifies the subject of a resolution. Account is nil for
// anonymous visitors. CountryCode and SourceIP describe the current session
// and take effect when the account record carries none.
type ResolveRequest struct {
	Account     *Account
	CountryCode string
	SourceIP    string
}

// Resolve computes the AccessType for the request. It is total for valid
// input shapes: strategy and oracle misses fall through, only storage
// failures surface as errors.
func (e *Engine) Resolve(ctx context.Context, req ResolveRequest) (AccessType, error) {
	started := e.now()
	result, err := e.resolve(ctx, req, started)
	if err != nil {
		return AccessType{}, err
	}
	obs.RecordResolution(result.Tier.String(), result.MatchedBy.String(), e.now().Sub(started))
	return result, nil
}

func (e *Engine) resolve(ctx context.Context, req ResolveRequest, now time.Time) (AccessType, error) {
	account := req.Account
	if account != nil {
		work := *account
		if work.SourceIP == "" {
			work.SourceIP = req.SourceIP
		}
		account = &work
	}

	restriction, err := e.countryRestriction(ctx, account, req.CountryCode)
	if err != nil {
		return AccessType{}, err
	}

	out := outcome{result: AccessType{Tier: TierEvaluation, MatchedBy: MatchedByNone}}
	switch {
	case restriction == RestrictionRequiresSubscription:
		out.result.Tier = TierRequireSubscription
	case account == nil:
		out.result.Tier = TierLimitedAccess
	}

	// Short-circuits, in fixed order. Admin overwrites the free-country
	// tier; an individual order records its id but never displaces an
	// already-set free or admin tier.
	if restriction == RestrictionFree {
		out.result.Tier = TierFreeAccess
		out.skipInstitutionCheck = true
		out.nonInstitutional = true
		out.skipMatching = true
	}
	if account != nil {
		if account.Role == RoleAdmin {
			out.result.Tier = TierAdminAccess
			out.skipInstitutionCheck = true
			out.nonInstitutional = true
			out.skipMatching = false
		}
		ord, err := e.oracle.ActiveForAccount(ctx, account.ID, now)
		if err != nil {
			return AccessType{}, err
		}
		if ord != nil {
			if out.result.Tier != TierAdminAccess && out.result.Tier != TierFreeAccess {
				if ord.Type == OrderTypeTrial {
					out.result.Tier = TierIndividualTrial
				} else {
					out.result.Tier = TierIndividualSubscription
				}
			}
			out.result.OrderID = ord.ID
			out.skipInstitutionCheck = true
			out.nonInstitutional = true
		}
	}

	if account == nil || out.skipMatching {
		return out.result, nil
	}

	for _, name := range e.order {
		m := e.matchers[name]
		cand, err := m.Locate(ctx, account, now)
		if err != nil {
			return AccessType{}, err
		}
		if cand == nil {
			continue
		}
		next, matched := m.Classify(out, cand, account, now)
		if !matched {
			continue
		}
		out = next
		break
	}

	if out.result.InstitutionID != "" && !out.skipInstitutionCheck &&
		(out.result.Tier == TierRequireSubscription || out.result.Tier == TierEvaluation) {
		if err := e.finalizeInstitutional(ctx, &out, account, now); err != nil {
			return AccessType{}, err
		}
	}
	return out.result, nil
}

func (e *Engine) finalizeInstitutional(ctx context.Context, out *outcome, account *Account, now time.Time) error {
	ord, err := e.oracle.ApplicableForInstitution(ctx, out.result.InstitutionID, account.Viewer, now)
	if err != nil {
		return err
	}
	if ord == nil {
		out.result.Tier = TierRequireSubscription
		return nil
	}
	if now.Before(ord.EndsAt) {
		if ord.Type == OrderTypeTrial {
			out.result.Tier = TierInstitutionalTrial
		} else {
			out.result.Tier = TierInstitutionalSubscription
		}
	} else {
		out.result.Tier = TierInstitutionSubscriptionExpired
	}
	out.result.OrderID = ord.ID
	out.result.LocationID = ord.LocationID
	if ord.CustomInstitutionName != "" {
		out.result.InstitutionName = ord.CustomInstitutionName
	}
	// An offsite match already carries the grant expiry; the order window
	// does not extend it.
	if !out.result.ViaTemporaryIP {
		ends := ord.EndsAt
		out.result.SubscriptionExpiresAt = &ends
	}
	return nil
}

func (e *Engine) countryRestriction(ctx context.Context, account *Account, fallback string) (ArticleRestriction, error) {
	code := fallback
	if account != nil && account.CountryCode != "" {
		code = account.CountryCode
	}
	if code == "" {
		return RestrictionEvaluation, nil
	}
	country, err := e.store.Countries().Find(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RestrictionEvaluation, nil
		}
		return 0, err
	}
	return country.Restriction, nil
}

// RevokeOffsiteAccess removes an account's offsite grant and resets the
// account's match state so the next resolution starts clean. This is the
// reset contract backing administrative revocation.
func (e *Engine) RevokeOffsiteAccess(ctx context.Context, accountID string) error {
	if err := e.store.Grants().DeleteByAccount(ctx, accountID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := e.store.Accounts().UpdateMatch(ctx, accountID, MatchedByNone, MatchStatusNotMatched); err != nil {
		return err
	}
	obs.RecordGrantRevoked()
	return nil
}
