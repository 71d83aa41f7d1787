package access

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"medview.org/internal/ipindex"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// newTestStore seeds the reference data shared by most scenarios:
// three countries, two institutions and a valid order for the first one.
func newTestStore() *InMemory {
	s := NewInMemory()
	s.SetClock(fixedClock)
	s.PutCountry(Country{Code: "UA", Name: "Ukraine", Restriction: RestrictionFree})
	s.PutCountry(Country{Code: "US", Name: "United States", Restriction: RestrictionRequiresSubscription})
	s.PutCountry(Country{Code: "PH", Name: "Philippines", Restriction: RestrictionEvaluation})
	s.PutInstitution(Institution{
		ID:                  "inst-general",
		Name:                "General Hospital",
		Aliases:             []string{"GH"},
		Domains:             []string{"gh.org"},
		RestrictMatchByName: true,
	})
	s.PutInstitution(Institution{
		ID:      "inst-state",
		Name:    "State University",
		Aliases: []string{"State U"},
		Domains: []string{"state.edu"},
	})
	s.PutOrder(Order{
		ID:            "ord-general",
		InstitutionID: "inst-general",
		StartsAt:      testNow.AddDate(0, -1, 0),
		EndsAt:        testNow.AddDate(0, 1, 0),
		Type:          OrderTypeStandard,
		CreatedAt:     testNow.AddDate(0, -1, 0),
	})
	if err := s.IPRanges().Create(context.Background(), &IPRange{
		ID:            "rng-general",
		Start:         mustAddr("10.0.0.0"),
		End:           mustAddr("10.0.0.255"),
		InstitutionID: "inst-general",
	}); err != nil {
		panic(err)
	}
	return s
}

func mustAddr(s string) uint32 {
	addr, err := ipindex.ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return addr
}

func newTestEngine(t *testing.T, store Store, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock), WithWarnFunc(func(string, map[string]any) {})}, opts...)
	e, err := NewEngine(store, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func resolve(t *testing.T, e *Engine, req ResolveRequest) AccessType {
	t.Helper()
	result, err := e.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return result
}

func TestResolveFreeCountryDominates(t *testing.T) {
	store := newTestStore()
	e := newTestEngine(t, store)

	// Anonymous visitor.
	got := resolve(t, e, ResolveRequest{CountryCode: "UA"})
	if got.Tier != TierFreeAccess {
		t.Fatalf("anonymous tier = %v, want %v", got.Tier, TierFreeAccess)
	}

	// Logged-in account whose email would otherwise match an institution.
	account := &Account{ID: "acc-1", Email: "doc@gh.org", CountryCode: "UA"}
	store.PutAccount(*account)
	got = resolve(t, e, ResolveRequest{Account: account})
	if got.Tier != TierFreeAccess {
		t.Fatalf("tier = %v, want %v", got.Tier, TierFreeAccess)
	}
	if got.InstitutionID != "" {
		t.Fatalf("institution id = %q, want unset", got.InstitutionID)
	}
	if got.MatchedBy != MatchedByNone {
		t.Fatalf("matched_by = %v, want %v", got.MatchedBy, MatchedByNone)
	}
}

func TestResolveRequiresSubscriptionBaseline(t *testing.T) {
	e := newTestEngine(t, newTestStore())
	account := &Account{ID: "acc-1", Email: "someone@example.com", CountryCode: "US"}
	got := resolve(t, e, ResolveRequest{Account: account})
	if got.Tier != TierRequireSubscription {
		t.Fatalf("tier = %v, want %v", got.Tier, TierRequireSubscription)
	}
	if got.MatchedBy != MatchedByNone {
		t.Fatalf("matched_by = %v, want %v", got.MatchedBy, MatchedByNone)
	}
}

func TestResolveEvaluationCountry(t *testing.T) {
	e := newTestEngine(t, newTestStore())

	got := resolve(t, e, ResolveRequest{CountryCode: "PH"})
	if got.Tier != TierLimitedAccess {
		t.Fatalf("anonymous tier = %v, want %v", got.Tier, TierLimitedAccess)
	}

	account := &Account{ID: "acc-1", Email: "someone@example.com", CountryCode: "PH"}
	got = resolve(t, e, ResolveRequest{Account: account})
	if got.Tier != TierEvaluation {
		t.Fatalf("tier = %v, want %v", got.Tier, TierEvaluation)
	}
}

func TestResolveUnknownCountryFallsBackToEvaluation(t *testing.T) {
	e := newTestEngine(t, newTestStore())
	got := resolve(t, e, ResolveRequest{CountryCode: "ZZ"})
	if got.Tier != TierLimitedAccess {
		t.Fatalf("tier = %v, want %v", got.Tier, TierLimitedAccess)
	}
}

func TestResolveAdminPrecedence(t *testing.T) {
	e := newTestEngine(t, newTestStore())
	account := &Account{ID: "acc-1", Email: "chief@gh.org", Role: RoleAdmin, CountryCode: "US"}
	got := resolve(t, e, ResolveRequest{Account: account})
	if got.Tier != TierAdminAccess {
		t.Fatalf("tier = %v, want %v", got.Tier, TierAdminAccess)
	}
	// The matched institution is still reported.
	if got.InstitutionID != "inst-general" || got.InstitutionName != "General Hospital" {
		t.Fatalf("institution = %q/%q, want inst-general/General Hospital", got.InstitutionID, got.InstitutionName)
	}
	if got.MatchedBy != MatchedByEmail {
		t.Fatalf("matched_by = %v, want %v", got.MatchedBy, MatchedByEmail)
	}
}

func TestResolveAdminOverridesFreeCountry(t *testing.T) {
	e := newTestEngine(t, newTestStore())
	account := &Account{ID: "acc-1", Role: RoleAdmin, CountryCode: "UA"}
	got := resolve(t, e, ResolveRequest{Account: account})
	if got.Tier != TierAdminAccess {
		t.Fatalf("tier = %v, want %v", got.Tier, TierAdminAccess)
	}
}

func TestResolveIndividualOrder(t *testing.T) {
	store := newTestStore()
	store.PutOrder(Order{
		ID:        "ord-individual",
		AccountID: "acc-1",
		StartsAt:  testNow.AddDate(0, 0, -1),
		EndsAt:    testNow.AddDate(0, 0, 30),
		Type:      OrderTypeIndividual,
		CreatedAt: testNow.AddDate(0, 0, -1),
	})
	e := newTestEngine(t, store)

	account := &Account{ID: "acc-1", Email: "doc@gh.org", CountryCode: "US"}
	got := resolve(t, e, ResolveRequest{Account: account})
	if got.Tier != TierIndividualSubscription {
		t.Fatalf("tier = %v, want %v", got.Tier, TierIndividualSubscription)
	}
	if got.OrderID != "ord-individual" {
		t.Fatalf("order id = %q, want ord-individual", got.OrderID)
	}
	// The email match is still recorded but must not displace the tier.
	if got.InstitutionID != "inst-general" {
		t.Fatalf("institution id = %q, want inst-general", got.InstitutionID)
	}
	if got.MatchedBy != MatchedByEmail {
		t.Fatalf("matched_by = %v, want %v", got.MatchedBy, MatchedByEmail)
	}
}

func TestResolveIndividualTrial(t *testing.T) {
	store := newTestStore()
	store.PutOrder(Order{
		ID:        "ord-trial",
		AccountID: "acc-1",
		StartsAt:  testNow.AddDate(0, 0, -1),
		EndsAt:    testNow.AddDate(0, 0, 14),
		Type:      OrderTypeTrial,
		CreatedAt: testNow.AddDate(0, 0, -1),
	})
	e := newTestEngine(t, store)
	got := resolve(t, e, ResolveRequest{Account: &Account{ID: "acc-1", CountryCode: "US"}})
	if got.Tier != TierIndividualTrial {
		t.Fatalf("tier = %v, want %v", got.Tier, TierIndividualTrial)
	}
}

func TestResolveIndividualOrderKeepsAdminTier(t *testing.T) {
	store := newTestStore()
	store.PutOrder(Order{
		ID:        "ord-individual",
		AccountID: "acc-1",
		StartsAt:  testNow.AddDate(0, 0, -1),
		EndsAt:    testNow.AddDate(0, 0, 30),
		Type:      OrderTypeIndividual,
		CreatedAt: testNow.AddDate(0, 0, -1),
	})
	e := newTestEngine(t, store)
	got := resolve(t, e, ResolveRequest{Account: &Account{ID: "acc-1", Role: RoleAdmin, CountryCode: "US"}})
	if got.Tier != TierAdminAccess {
		t.Fatalf("tier = %v, want %v", got.Tier, TierAdminAccess)
	}
	if got.OrderID != "ord-individual" {
		t.Fatalf("order id = %q, want ord-individual", got.OrderID)
	}
}

func TestResolveFreeCountryOutranksIndividualOrder(t *testing.T) {
	store := newTestStore()
	store.PutOrder(Order{
		ID:        "ord-individual",
		AccountID: "acc-1",
		StartsAt:  testNow.AddDate(0, 0, -1),
		EndsAt:    testNow.AddDate(0, 0, 30),
		Type:      OrderTypeIndividual,
		CreatedAt: testNow.AddDate(0, 0, -1),
	})
	e := newTestEngine(t, store)
	got := resolve(t, e, ResolveRequest{Account: &Account{ID: "acc-1", CountryCode: "UA"}})
	if got.Tier != TierFreeAccess {
		t.Fatalf("tier = %v, want %v", got.Tier, TierFreeAccess)
	}
	if got.OrderID != "ord-individual" {
		t.Fatalf("order id = %q, want ord-individual", got.OrderID)
	}
}

func TestResolveEmailAwaitingConfirmation(t *testing.T) {
	e := newTestEngine(t, newTestStore())
	account := &Account{ID: "acc-1", Email: "doc@gh.org", CountryCode: "US"}
	got := resolve(t, e, ResolveRequest{Account: account})
	if got.Tier != TierAwaitingEmailConfirmation {
		t.Fatalf("tier = %v, want %v", got.Tier, TierAwaitingEmailConfirmation)
	}
	if got.MatchedBy != MatchedByEmail {
		t.Fatalf("matched_by = %v, want %v", got.MatchedBy, MatchedByEmail)
	}
	if !got.RequestVerification {
		t.Fatal("expected verification request hint")
	}
}

func TestResolveEmailConfirmationExpired(t *testing.T) {
	e := newTestEngine(t, newTestStore())
	verified := testNow.AddDate(0, 0, -367)
	account := &Account{ID: "acc-1", Email: "doc@gh.org", EmailVerifiedAt: &verified, CountryCode: "US"}
	got := resolve(t, e, ResolveRequest{Account: account})
	if got.Tier != TierEmailConfirmationExpired {
		t.Fatalf("tier = %v, want %v", got.Tier, TierEmailConfirmationExpired)
	}
}

func TestResolveVerifiedEmailPromotesToInstitutionalSubscription(t *testing.T) {
	e := newTestEngine(t, newTestStore())
	verified := testNow.AddDate(0, 0, -10)
	account := &Account{ID: "acc-1", Email: "doc@gh.org", EmailVerifiedAt: &verified, CountryCode: "US"}
	got := resolve(t, e, ResolveRequest{Account: account})
	if got.Tier != TierInstitutionalSubscription {
		t.Fatalf("tier = %v, want %v", got.Tier, TierInstitutionalSubscription)
	}
	if got.OrderID != "ord-general" {
		t.Fatalf("order id = %q, want ord-general", got.OrderID)
	}
	if got.SubscriptionExpiresAt == nil || !got.SubscriptionExpiresAt.Equal(testNow.AddDate(0, 1, 0)) {
		t.Fatalf("subscription expiry = %v, want order end", got.SubscriptionExpiresAt)
	}
}

func TestResolveInstitutionalEmailPrecedesPlainEmail(t *testing.T) {
	e := newTestEngine(t, newTestStore())
	verified := testNow.AddDate(0, 0, -5)
	account := &Account{
		ID:                  "acc-1",
		Email:               "doc@gh.org",
		InstitutionalEmail:  "doc@state.edu",
		InstEmailVerifiedAt: &verified,
		CountryCode:         "US",
	}
	got := resolve(t, e, ResolveRequest{Account: account})
	if got.MatchedBy != MatchedByInstitutionalEmail {
		t.Fatalf("matched_by = %v, want %v", got.MatchedBy, MatchedByInstitutionalEmail)
	}
	if got.InstitutionID != "inst-state" {
		t.Fatalf("institution id = %q, want inst-state", got.InstitutionID)
	}
}

func TestResolveNameOrAlias(t *testing.T) {
	e := newTestEngine(t, newTestStore())

	// restrictMatchByName institutions cap the tier.
	account := &Account{ID: "acc-1", InstitutionName: "gh", CountryCode: "US"}
	got := resolve(t, e, ResolveRequest{Account: account})
	if got.Tier != TierInstitutionNameOrAliasRestricted {
		t.Fatalf("tier = %v, want %v", got.Tier, TierInstitutionNameOrAliasRestricted)
	}
	if got.MatchedBy != MatchedByInstitutionName {
		t.Fatalf("matched_by = %v, want %v", got.MatchedBy, MatchedByInstitutionName)
	}

	// Unrestricted institutions proceed to the order check; with no order
	// that still means a subscription is required.
	account = &Account{ID: "acc-2", InstitutionName: "state u", CountryCode: "US"}
	got = resolve(t, e, ResolveRequest{Account: account})
	if got.Tier != TierRequireSubscription {
		t.Fatalf("tier = %v, want %v", got.Tier, TierRequireSubscription)
	}
	if got.InstitutionID != "inst-state" {
		t.Fatalf("institution id = %q, want inst-state", got.InstitutionID)
	}
}

func TestResolveIPMatchClearsStaleGrant(t *testing.T) {
	store := newTestStore()
	store.PutGrant(TemporaryAccess{
		ID:            "grant-1",
		AccountID:     "acc-1",
		InstitutionID: "inst-state",
		CreatedAt:     testNow.AddDate(0, 0, -2),
		ExpiresAt:     testNow.AddDate(0, 0, 12),
	})
	e := newTestEngine(t, store)

	account := &Account{ID: "acc-1", SourceIP: "10.0.0.7", CountryCode: "US"}
	got := resolve(t, e, ResolveRequest{Account: account})
	if got.MatchedBy != MatchedByIP {
		t.Fatalf("matched_by = %v, want %v", got.MatchedBy, MatchedByIP)
	}
	if got.Tier != TierInstitutionalSubscription {
		t.Fatalf("tier = %v, want %v", got.Tier, TierInstitutionalSubscription)
	}
	if got.ViaTemporaryIP {
		t.Fatal("direct network match must not be flagged as temporary")
	}
	if _, err := store.Grants().FindByAccount(context.Background(), "acc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale grant should have been cleared, got err=%v", err)
	}
}

func TestResolveMalformedSourceIPFallsThrough(t *testing.T) {
	e := newTestEngine(t, newTestStore())
	account := &Account{ID: "acc-1", SourceIP: "not-an-ip", CountryCode: "US"}
	got := resolve(t, e, ResolveRequest{Account: account})
	if got.Tier != TierRequireSubscription || got.MatchedBy != MatchedByNone {
		t.Fatalf("got %v/%v, want fall-through baseline", got.Tier, got.MatchedBy)
	}
}

func TestResolveOffsiteGrantLifecycle(t *testing.T) {
	store := newTestStore()
	e := newTestEngine(t, store)

	// Previously matched by IP inside inst-general's network, now arriving
	// from an address outside every range.
	account := Account{
		ID:           "acc-1",
		MatchedBy:    MatchedByIP,
		SourceIP:     "192.0.2.10",
		PrevSourceIP: "10.0.0.7",
		CountryCode:  "US",
	}
	store.PutAccount(account)

	got := resolve(t, e, ResolveRequest{Account: &account})
	if got.MatchedBy != MatchedByOffsiteAccess {
		t.Fatalf("matched_by = %v, want %v", got.MatchedBy, MatchedByOffsiteAccess)
	}
	if !got.ViaTemporaryIP {
		t.Fatal("expected via_temporary_ip")
	}
	if got.Tier != TierInstitutionalSubscription {
		t.Fatalf("tier = %v, want %v", got.Tier, TierInstitutionalSubscription)
	}
	wantExpiry := testNow.Add(GrantTTL)
	if got.SubscriptionExpiresAt == nil || !got.SubscriptionExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expiry = %v, want %v", got.SubscriptionExpiresAt, wantExpiry)
	}

	grant, err := store.Grants().FindByAccount(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("grant not persisted: %v", err)
	}
	if !grant.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("persisted expiry = %v, want %v", grant.ExpiresAt, wantExpiry)
	}

	// Repeated resolution reuses the grant and yields the identical result.
	again := resolve(t, e, ResolveRequest{Account: &account})
	if !reflect.DeepEqual(got, again) {
		t.Fatalf("resolution not idempotent: %+v vs %+v", got, again)
	}

	// Administrative revocation resets the account's match state.
	if err := e.RevokeOffsiteAccess(context.Background(), "acc-1"); err != nil {
		t.Fatalf("RevokeOffsiteAccess: %v", err)
	}
	reloaded, err := store.Accounts().Find(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if reloaded.MatchedBy != MatchedByNone || reloaded.MatchStatus != MatchStatusNotMatched {
		t.Fatalf("match state = %v/%v, want reset", reloaded.MatchedBy, reloaded.MatchStatus)
	}

	// With the grant gone and the stored match reset, nothing matches.
	got = resolve(t, e, ResolveRequest{Account: reloaded})
	if got.MatchedBy != MatchedByNone {
		t.Fatalf("matched_by = %v, want %v", got.MatchedBy, MatchedByNone)
	}
	if got.Tier != TierRequireSubscription {
		t.Fatalf("tier = %v, want %v", got.Tier, TierRequireSubscription)
	}
}

func TestResolveGrantDoesNotDecorateIndividualTier(t *testing.T) {
	store := newTestStore()
	store.PutOrder(Order{
		ID:        "ord-individual",
		AccountID: "acc-1",
		StartsAt:  testNow.AddDate(0, 0, -1),
		EndsAt:    testNow.AddDate(0, 0, 30),
		Type:      OrderTypeIndividual,
		CreatedAt: testNow.AddDate(0, 0, -1),
	})
	store.PutGrant(TemporaryAccess{
		ID:            "grant-1",
		AccountID:     "acc-1",
		InstitutionID: "inst-general",
		CreatedAt:     testNow.AddDate(0, 0, -2),
		ExpiresAt:     testNow.AddDate(0, 0, 12),
	})
	e := newTestEngine(t, store)
	got := resolve(t, e, ResolveRequest{Account: &Account{ID: "acc-1", CountryCode: "US"}})
	if got.Tier != TierIndividualSubscription {
		t.Fatalf("tier = %v, want %v", got.Tier, TierIndividualSubscription)
	}
	// The grant still identifies the institution but must not stamp its
	// expiry onto a tier it does not own.
	if got.MatchedBy != MatchedByOffsiteAccess || got.InstitutionID != "inst-general" {
		t.Fatalf("match = %v/%q, want offsite identification", got.MatchedBy, got.InstitutionID)
	}
	if got.ViaTemporaryIP {
		t.Fatal("via_temporary_ip set on an individual tier")
	}
	if got.SubscriptionExpiresAt != nil {
		t.Fatalf("subscription expiry = %v, want unset", got.SubscriptionExpiresAt)
	}
}

func TestResolveOffsiteRequiresValidOrder(t *testing.T) {
	store := newTestStore()
	// Replace the valid order with an expired one.
	store.PutOrder(Order{
		ID:            "ord-general",
		InstitutionID: "inst-general",
		StartsAt:      testNow.AddDate(-1, 0, 0),
		EndsAt:        testNow.AddDate(0, -1, 0),
		Type:          OrderTypeStandard,
		CreatedAt:     testNow.AddDate(-1, 0, 0),
	})
	e := newTestEngine(t, store)
	account := &Account{
		ID:           "acc-1",
		MatchedBy:    MatchedByIP,
		SourceIP:     "192.0.2.10",
		PrevSourceIP: "10.0.0.7",
		CountryCode:  "US",
	}
	got := resolve(t, e, ResolveRequest{Account: account})
	if got.MatchedBy != MatchedByNone {
		t.Fatalf("matched_by = %v, want no offsite grant without a valid order", got.MatchedBy)
	}
	if _, err := store.Grants().FindByAccount(context.Background(), "acc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("no grant should exist, got err=%v", err)
	}
}

func TestResolveGrantCreationFailureIsSwallowed(t *testing.T) {
	store := newTestStore()
	var warned bool
	e := newTestEngine(t, failingGrantStore{store}, WithWarnFunc(func(string, map[string]any) { warned = true }))
	account := &Account{
		ID:           "acc-1",
		MatchedBy:    MatchedByIP,
		SourceIP:     "192.0.2.10",
		PrevSourceIP: "10.0.0.7",
		CountryCode:  "US",
	}
	got := resolve(t, e, ResolveRequest{Account: account})
	if got.Tier != TierRequireSubscription || got.MatchedBy != MatchedByNone {
		t.Fatalf("got %v/%v, want lower-tier fall-through", got.Tier, got.MatchedBy)
	}
	if !warned {
		t.Fatal("expected swallowed failure to be reported")
	}
}

func TestResolveExpiredInstitutionalOrder(t *testing.T) {
	store := newTestStore()
	store.PutOrder(Order{
		ID:            "ord-general",
		InstitutionID: "inst-general",
		StartsAt:      testNow.AddDate(-1, 0, 0),
		EndsAt:        testNow.AddDate(0, 0, -3),
		Type:          OrderTypeStandard,
		CreatedAt:     testNow.AddDate(-1, 0, 0),
	})
	e := newTestEngine(t, store)
	verified := testNow.AddDate(0, 0, -10)
	account := &Account{ID: "acc-1", Email: "doc@gh.org", EmailVerifiedAt: &verified, CountryCode: "US"}
	got := resolve(t, e, ResolveRequest{Account: account})
	if got.Tier != TierInstitutionSubscriptionExpired {
		t.Fatalf("tier = %v, want %v", got.Tier, TierInstitutionSubscriptionExpired)
	}
	if got.SubscriptionExpiresAt == nil || !got.SubscriptionExpiresAt.Equal(testNow.AddDate(0, 0, -3)) {
		t.Fatalf("expiry = %v, want order end", got.SubscriptionExpiresAt)
	}
}

func TestResolveInstitutionalTrial(t *testing.T) {
	store := newTestStore()
	store.PutOrder(Order{
		ID:            "ord-general",
		InstitutionID: "inst-general",
		StartsAt:      testNow.AddDate(0, 0, -1),
		EndsAt:        testNow.AddDate(0, 0, 13),
		Type:          OrderTypeTrial,
		CreatedAt:     testNow.AddDate(0, 0, -1),
	})
	e := newTestEngine(t, store)
	verified := testNow.AddDate(0, 0, -10)
	account := &Account{ID: "acc-1", Email: "doc@gh.org", EmailVerifiedAt: &verified, CountryCode: "US"}
	got := resolve(t, e, ResolveRequest{Account: account})
	if got.Tier != TierInstitutionalTrial {
		t.Fatalf("tier = %v, want %v", got.Tier, TierInstitutionalTrial)
	}
}

func TestResolveCustomInstitutionName(t *testing.T) {
	store := newTestStore()
	store.PutOrder(Order{
		ID:                    "ord-general",
		InstitutionID:         "inst-general",
		StartsAt:              testNow.AddDate(0, -1, 0),
		EndsAt:                testNow.AddDate(0, 1, 0),
		Type:                  OrderTypeStandard,
		CustomInstitutionName: "General Hospital Network",
		LocationID:            "loc-7",
		CreatedAt:             testNow.AddDate(0, -1, 0),
	})
	e := newTestEngine(t, store)
	verified := testNow.AddDate(0, 0, -10)
	account := &Account{ID: "acc-1", Email: "doc@gh.org", EmailVerifiedAt: &verified, CountryCode: "US"}
	got := resolve(t, e, ResolveRequest{Account: account})
	if got.InstitutionName != "General Hospital Network" {
		t.Fatalf("institution name = %q, want custom name", got.InstitutionName)
	}
	if got.LocationID != "loc-7" {
		t.Fatalf("location id = %q, want loc-7", got.LocationID)
	}
}

func TestResolveIdempotentWithoutSideEffects(t *testing.T) {
	e := newTestEngine(t, newTestStore())
	verified := testNow.AddDate(0, 0, -10)
	account := &Account{ID: "acc-1", Email: "doc@gh.org", EmailVerifiedAt: &verified, CountryCode: "US"}
	first := resolve(t, e, ResolveRequest{Account: account})
	second := resolve(t, e, ResolveRequest{Account: account})
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("results differ: %+v vs %+v", first, second)
	}
}

func TestResolveViewerRestrictionsFilterOrders(t *testing.T) {
	store := newTestStore()
	store.PutOrder(Order{
		ID:                  "ord-general",
		InstitutionID:       "inst-general",
		StartsAt:            testNow.AddDate(0, -1, 0),
		EndsAt:              testNow.AddDate(0, 1, 0),
		Type:                OrderTypeStandard,
		RestrictedUserTypes: []string{"resident"},
		CreatedAt:           testNow.AddDate(0, -1, 0),
	})
	e := newTestEngine(t, store)
	verified := testNow.AddDate(0, 0, -10)

	account := &Account{ID: "acc-1", Email: "doc@gh.org", EmailVerifiedAt: &verified, CountryCode: "US",
		Viewer: ViewerAttrs{UserType: "attending"}}
	got := resolve(t, e, ResolveRequest{Account: account})
	if got.Tier != TierRequireSubscription {
		t.Fatalf("excluded viewer tier = %v, want %v", got.Tier, TierRequireSubscription)
	}

	account.Viewer.UserType = "resident"
	got = resolve(t, e, ResolveRequest{Account: account})
	if got.Tier != TierInstitutionalSubscription {
		t.Fatalf("admitted viewer tier = %v, want %v", got.Tier, TierInstitutionalSubscription)
	}
}

func TestNewEngineRejectsBadMatchOrder(t *testing.T) {
	store := newTestStore()
	if _, err := NewEngine(store, WithMatchOrder([]MatchedBy{MatchedByIP, MatchedByIP})); err == nil {
		t.Fatal("expected duplicate strategy to be rejected")
	}
	if _, err := NewEngine(store, WithMatchOrder(nil)); err == nil {
		t.Fatal("expected empty order to be rejected")
	}
	if _, err := NewEngine(store, WithMatchOrder([]MatchedBy{MatchedByNone})); err == nil {
		t.Fatal("expected not_matched to be rejected")
	}
}

func TestWithMatchOrderChangesPriority(t *testing.T) {
	store := newTestStore()
	// With IP ahead of email, a network match wins over a domain match.
	e := newTestEngine(t, store, WithMatchOrder([]MatchedBy{MatchedByIP, MatchedByEmail}))
	account := &Account{ID: "acc-1", Email: "doc@state.edu", SourceIP: "10.0.0.7", CountryCode: "US"}
	got := resolve(t, e, ResolveRequest{Account: account})
	if got.MatchedBy != MatchedByIP {
		t.Fatalf("matched_by = %v, want %v", got.MatchedBy, MatchedByIP)
	}
	if got.InstitutionID != "inst-general" {
		t.Fatalf("institution id = %q, want inst-general", got.InstitutionID)
	}
}

// failingGrantStore makes every grant write fail while delegating the rest.
type failingGrantStore struct {
	*InMemory
}

func (s failingGrantStore) Grants() GrantStore { return failingGrants{s.InMemory.Grants()} }

type failingGrants struct {
	GrantStore
}

func (failingGrants) Upsert(context.Context, *TemporaryAccess) error {
	return errors.New("disk full")
}
