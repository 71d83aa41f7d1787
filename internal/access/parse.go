package access

import "fmt"

// ParseMatchedBy is the inverse of MatchedBy.String.
func ParseMatchedBy(s string) (MatchedBy, error) {
	for m := MatchedByNone; m <= MatchedByOffsiteAccess; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: matched_by %q", ErrInvalidInput, s)
}

// ParseMatchStatus is the inverse of MatchStatus.String.
func ParseMatchStatus(s string) (MatchStatus, error) {
	for st := MatchStatusNotMatched; st <= MatchStatusAdmin; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: match_status %q", ErrInvalidInput, s)
}

// ParseOrderType is the inverse of OrderType.String.
func ParseOrderType(s string) (OrderType, error) {
	for t := OrderTypeStandard; t <= OrderTypeIndividual; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: order type %q", ErrInvalidInput, s)
}

// ParseRestriction is the inverse of ArticleRestriction.String.
func ParseRestriction(s string) (ArticleRestriction, error) {
	for r := RestrictionEvaluation; r <= RestrictionRequiresSubscription; r++ {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: article restriction %q", ErrInvalidInput, s)
}
