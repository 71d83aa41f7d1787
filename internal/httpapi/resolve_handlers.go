package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"medview.org/internal/access"
)

type resolveRequest struct {
	AccountID   string `json:"account_id"`
	CountryCode string `json:"country_code"`
	SourceIP    string `json:"source_ip"`
}

type accessTypeResponse struct {
	Tier                  string     `json:"tier"`
	InstitutionID         string     `json:"institution_id,omitempty"`
	InstitutionName       string     `json:"institution_name,omitempty"`
	MatchedBy             string     `json:"matched_by"`
	MatchStatus           string     `json:"match_status"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	OrderID               string     `json:"order_id,omitempty"`
	LocationID            string     `json:"location_id,omitempty"`
	ViaTemporaryIP        bool       `json:"via_temporary_ip,omitempty"`
	RequestVerification   bool       `json:"request_verification,omitempty"`
}

func toAccessTypeResponse(at access.AccessType) accessTypeResponse {
	return accessTypeResponse{
		Tier:                  at.Tier.String(),
		InstitutionID:         at.InstitutionID,
		InstitutionName:       at.InstitutionName,
		MatchedBy:             at.MatchedBy.String(),
		MatchStatus:           at.MatchStatus.String(),
		SubscriptionExpiresAt: at.SubscriptionExpiresAt,
		OrderID:               at.OrderID,
		LocationID:            at.LocationID,
		ViaTemporaryIP:        at.ViaTemporaryIP,
		RequestVerification:   at.RequestVerification,
	}
}

// Resolve computes the entitlement for an account or anonymous visitor.
// Results are memoized per account for a bounded window; a request that
// carries fresh session attributes bypasses the cache because those inputs
// are not part of the key.
func (a *API) Resolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	cacheable := a.results != nil && req.AccountID != "" && req.CountryCode == "" && req.SourceIP == ""
	if cacheable {
		if cached, ok := a.results.Get(req.AccountID); ok {
			writeJSON(w, http.StatusOK, toAccessTypeResponse(cached))
			return
		}
	}

	engineReq := access.ResolveRequest{
		CountryCode: req.CountryCode,
		SourceIP:    req.SourceIP,
	}
	if req.AccountID != "" {
		account, err := a.store.Accounts().Find(r.Context(), req.AccountID)
		if err != nil {
			if errors.Is(err, access.ErrNotFound) {
				respondError(w, http.StatusNotFound, "account not found")
				return
			}
			respondError(w, http.StatusInternalServerError, "storage error")
			return
		}
		engineReq.Account = account
	}

	result, err := a.engine.Resolve(r.Context(), engineReq)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "resolution failed")
		return
	}
	if cacheable {
		a.results.Set(req.AccountID, result)
	}
	writeJSON(w, http.StatusOK, toAccessTypeResponse(result))
}
