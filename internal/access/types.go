package access

import "time"

// GrantTTL is the lifetime of an offsite access grant.
const GrantTTL = 14 * 24 * time.Hour

// EmailVerificationMaxAge is how long an email verification stays fresh.
const EmailVerificationMaxAge = 365 * 24 * time.Hour

const RoleAdmin = "admin"

// Tier is the entitlement level computed for a visitor or account.
type Tier uint8

const (
	TierEvaluation Tier = iota
	TierLimitedAccess
	TierFreeAccess
	TierRequireSubscription
	TierAdminAccess
	TierIndividualTrial
	TierIndividualSubscription
	TierInstitutionalTrial
	TierInstitutionalSubscription
	TierInstitutionSubscriptionExpired
	TierAwaitingEmailConfirmation
	TierEmailConfirmationExpired
	TierInstitutionNameOrAliasRestricted
)

func (t Tier) String() string {
	switch t {
	case TierEvaluation:
		return "evaluation"
	case TierLimitedAccess:
		return "limited_access"
	case TierFreeAccess:
		return "free_access"
	case TierRequireSubscription:
		return "require_subscription"
	case TierAdminAccess:
		return "admin_access"
	case TierIndividualTrial:
		return "individual_trial"
	case TierIndividualSubscription:
		return "individual_subscription"
	case TierInstitutionalTrial:
		return "institutional_trial"
	case TierInstitutionalSubscription:
		return "institutional_subscription"
	case TierInstitutionSubscriptionExpired:
		return "institution_subscription_expired"
	case TierAwaitingEmailConfirmation:
		return "awaiting_email_confirmation"
	case TierEmailConfirmationExpired:
		return "email_confirmation_expired"
	case TierInstitutionNameOrAliasRestricted:
		return "institution_name_or_alias_restricted"
	}
	return "unknown"
}

// MatchedBy identifies the signal that associated an account with an institution.
type MatchedBy uint8

const (
	MatchedByNone MatchedBy = iota
	MatchedByAdmin
	MatchedByEmail
	MatchedByInstitutionalEmail
	MatchedByInstitutionName
	MatchedByIP
	MatchedByOffsiteAccess
)

func (m MatchedBy) String() string {
	switch m {
	case MatchedByNone:
		return "not_matched"
	case MatchedByAdmin:
		return "admin"
	case MatchedByEmail:
		return "email"
	case MatchedByInstitutionalEmail:
		return "institutional_email"
	case MatchedByInstitutionName:
		return "institution_name"
	case MatchedByIP:
		return "ip"
	case MatchedByOffsiteAccess:
		return "offsite_access"
	}
	return "unknown"
}

// MatchStatus qualifies how firmly an account is bound to its institution.
type MatchStatus uint8

const (
	MatchStatusNotMatched MatchStatus = iota
	MatchStatusMatched
	MatchStatusAdmin
)

func (s MatchStatus) String() string {
	switch s {
	case MatchStatusNotMatched:
		return "not_matched"
	case MatchStatusMatched:
		return "matched"
	case MatchStatusAdmin:
		return "admin"
	}
	return "unknown"
}

// ArticleRestriction classifies a country's content policy.
type ArticleRestriction uint8

const (
	RestrictionEvaluation ArticleRestriction = iota
	RestrictionFree
	RestrictionRequiresSubscription
)

func (r ArticleRestriction) String() string {
	switch r {
	case RestrictionEvaluation:
		return "evaluation"
	case RestrictionFree:
		return "free"
	case RestrictionRequiresSubscription:
		return "requires_subscription"
	}
	return "unknown"
}

// OrderType distinguishes subscription order flavours.
type OrderType uint8

const (
	OrderTypeStandard OrderType = iota
	OrderTypeTrial
	OrderTypeIndividual
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeStandard:
		return "standard"
	case OrderTypeTrial:
		return "trial"
	case OrderTypeIndividual:
		return "individual"
	}
	return "unknown"
}

// ViewerAttrs carries the viewer profile used to filter restricted orders.
type ViewerAttrs struct {
	UserType  string
	Specialty string
}

// Account is a registered user.
type Account struct {
	ID                  string
	Email               string
	InstitutionalEmail  string
	InstitutionName     string // self-declared
	InstitutionID       string
	Role                string
	MatchedBy           MatchedBy
	MatchStatus         MatchStatus
	SourceIP            string
	PrevSourceIP        string
	EmailVerifiedAt     *time.Time
	InstEmailVerifiedAt *time.Time
	CountryCode         string
	Viewer              ViewerAttrs
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Institution is a subscribing organisation.
type Institution struct {
	ID                  string
	Name                string
	Aliases             []string
	Domains             []string
	RestrictMatchByName bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IPRange maps an inclusive IPv4 interval to one institution.
type IPRange struct {
	ID            string
	Start         uint32
	End           uint32
	InstitutionID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Order is a paid or trial subscription with a half-open validity window.
type Order struct {
	ID                    string
	InstitutionID         string
	AccountID             string
	StartsAt              time.Time
	EndsAt                time.Time // exclusive
	Type                  OrderType
	Status                string
	Deleted               bool
	RestrictedUserTypes   []string
	RestrictedSpecialties []string
	CustomInstitutionName string
	LocationID            string
	CreatedAt             time.Time
}

// Covers reports whether the order window contains the instant.
func (o Order) Covers(now time.Time) bool {
	return !o.StartsAt.After(now) && now.Before(o.EndsAt)
}

// AllowsViewer applies the order's allow-lists; empty lists allow everyone.
func (o Order) AllowsViewer(v ViewerAttrs) bool {
	if len(o.RestrictedUserTypes) > 0 && !contains(o.RestrictedUserTypes, v.UserType) {
		return false
	}
	if len(o.RestrictedSpecialties) > 0 && !contains(o.RestrictedSpecialties, v.Specialty) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// TemporaryAccess is a time-boxed offsite exception carried over from an IP match.
type TemporaryAccess struct {
	ID            string
	AccountID     string
	InstitutionID string
	SourceIP      string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Country holds the per-country content policy.
type Country struct {
	Code        string
	Name        string
	Restriction ArticleRestriction
}

// AccessType is the resolution result. It is computed fresh on every call
// and never persisted.
type AccessType struct {
	Tier                  Tier
	InstitutionID         string
	InstitutionName       string
	MatchedBy             MatchedBy
	MatchStatus           MatchStatus
	SubscriptionExpiresAt *time.Time
	OrderID               string
	LocationID            string
	ViaTemporaryIP        bool
	RequestVerification   bool
}
