package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"medview.org/internal/access"
	"medview.org/internal/audit"
	"medview.org/internal/ids"
	"medview.org/internal/ipindex"
	"medview.org/internal/obs"
)

// routeAdmin dispatches /v1/admin/... paths. Every admin mutation
// invalidates the result cache: resolution inputs changed.
func (a *API) routeAdmin(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case parts[0] == "ip-ranges" && len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			a.listIPRanges(w, r)
		case http.MethodPost:
			a.createIPRange(w, r)
		default:
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case parts[0] == "ip-ranges" && len(parts) == 2:
		switch r.Method {
		case http.MethodPut:
			a.updateIPRange(w, r, parts[1])
		case http.MethodDelete:
			a.deleteIPRange(w, r, parts[1])
		default:
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case parts[0] == "accounts" && len(parts) == 3 && parts[2] == "offsite-access":
		if r.Method != http.MethodDelete {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		a.revokeOffsiteAccess(w, r, parts[1])
	case parts[0] == "cache" && len(parts) == 2 && parts[1] == "stats":
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		a.cacheStats(w, r)
	default:
		http.NotFound(w, r)
	}
}

type ipRangeRequest struct {
	Start         string `json:"start"`
	End           string `json:"end"`
	InstitutionID string `json:"institution_id"`
}

type ipRangeResponse struct {
	ID            string `json:"id"`
	Start         string `json:"start"`
	End           string `json:"end"`
	InstitutionID string `json:"institution_id"`
}

func toIPRangeResponse(r access.IPRange) ipRangeResponse {
	return ipRangeResponse{
		ID:            r.ID,
		Start:         ipindex.FormatAddr(r.Start),
		End:           ipindex.FormatAddr(r.End),
		InstitutionID: r.InstitutionID,
	}
}

func (a *API) listIPRanges(w http.ResponseWriter, r *http.Request) {
	ranges, err := a.store.IPRanges().List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage error")
		return
	}
	out := make([]ipRangeResponse, 0, len(ranges))
	for _, item := range ranges {
		out = append(out, toIPRangeResponse(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ip_ranges": out})
}

func (a *API) createIPRange(w http.ResponseWriter, r *http.Request) {
	rng, ok := a.decodeIPRange(w, r, ids.New())
	if !ok {
		return
	}
	a.writeIPRange(w, r, rng, true)
}

func (a *API) updateIPRange(w http.ResponseWriter, r *http.Request, id string) {
	rng, ok := a.decodeIPRange(w, r, id)
	if !ok {
		return
	}
	a.writeIPRange(w, r, rng, false)
}

func (a *API) decodeIPRange(w http.ResponseWriter, r *http.Request, id string) (*access.IPRange, bool) {
	var req ipRangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return nil, false
	}
	start, err := ipindex.ParseAddr(req.Start)
	if err != nil {
		respondError(w, http.StatusBadRequest, "start is not an IPv4 address")
		return nil, false
	}
	end, err := ipindex.ParseAddr(req.End)
	if err != nil {
		respondError(w, http.StatusBadRequest, "end is not an IPv4 address")
		return nil, false
	}
	if start > end {
		respondError(w, http.StatusBadRequest, "start must not exceed end")
		return nil, false
	}
	if req.InstitutionID == "" {
		respondError(w, http.StatusBadRequest, "institution_id is required")
		return nil, false
	}
	return &access.IPRange{ID: id, Start: start, End: end, InstitutionID: req.InstitutionID}, true
}

func (a *API) writeIPRange(w http.ResponseWriter, r *http.Request, rng *access.IPRange, creating bool) {
	var err error
	if creating {
		err = a.store.IPRanges().Create(r.Context(), rng)
	} else {
		err = a.store.IPRanges().Update(r.Context(), rng)
	}
	if err != nil {
		var overlap *access.OverlapError
		switch {
		case errors.As(err, &overlap):
			obs.RecordRangeConflict()
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":                    "ip range overlaps ranges of other institutions",
				"conflicting_institutions": overlap.Institutions,
			})
		case errors.Is(err, access.ErrNotFound):
			respondError(w, http.StatusNotFound, "institution or range not found")
		case errors.Is(err, access.ErrInvalidInput):
			respondError(w, http.StatusBadRequest, "invalid range")
		default:
			respondError(w, http.StatusInternalServerError, "storage error")
		}
		return
	}
	if a.results != nil {
		a.results.InvalidateAll()
	}
	event := "ip_range.updated"
	code := http.StatusOK
	if creating {
		event = "ip_range.created"
		code = http.StatusCreated
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"range_id":       rng.ID,
		"institution_id": rng.InstitutionID,
		"start":          ipindex.FormatAddr(rng.Start),
		"end":            ipindex.FormatAddr(rng.End),
	})
	writeJSON(w, code, toIPRangeResponse(*rng))
}

func (a *API) deleteIPRange(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.store.IPRanges().Delete(r.Context(), id); err != nil {
		if errors.Is(err, access.ErrNotFound) {
			respondError(w, http.StatusNotFound, "range not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if a.results != nil {
		a.results.InvalidateAll()
	}
	_ = audit.LogEvent(r.Context(), "ip_range.deleted", map[string]any{"range_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func (a *API) revokeOffsiteAccess(w http.ResponseWriter, r *http.Request, accountID string) {
	if err := a.engine.RevokeOffsiteAccess(r.Context(), accountID); err != nil {
		if errors.Is(err, access.ErrNotFound) {
			respondError(w, http.StatusNotFound, "account not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if a.results != nil {
		a.results.Invalidate(accountID)
	}
	_ = audit.LogEvent(r.Context(), "offsite_access.revoked", map[string]any{"account_id": accountID})
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

func (a *API) cacheStats(w http.ResponseWriter, r *http.Request) {
	if a.results == nil {
		respondError(w, http.StatusNotFound, "cache disabled")
		return
	}
	writeJSON(w, http.StatusOK, a.results.Stats())
}
