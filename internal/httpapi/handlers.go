package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"medview.org/internal/access"
	"medview.org/internal/cache"
	"medview.org/internal/obs"
)

// ReadyProbe pings the backing store when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the resolution engine. The engine itself stays
// transport-agnostic; everything here is a collaborator surface.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	store   access.Store
	engine  *access.Engine
	results *cache.ResultCache

	adminSecret []byte
	rateBurst   int
	ratePerSec  int
	maxBody     int64
}

// New wires routes. adminSecret guards the /v1/admin surface; when empty the
// admin routes reject every request.
func New(rp ReadyProbe, version string, store access.Store, engine *access.Engine, results *cache.ResultCache, adminSecret string) *API {
	a := &API{
		mux:         http.NewServeMux(),
		readyProbe:  rp,
		version:     version,
		store:       store,
		engine:      engine,
		results:     results,
		adminSecret: []byte(adminSecret),
		rateBurst:   20,
		ratePerSec:  10,
		maxBody:     1 << 20,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	a.mux.HandleFunc("/v1/access/resolve", a.Resolve)

	a.mux.Handle("/v1/admin/", a.withAdminAuth(http.HandlerFunc(a.routeAdmin)))

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "medview-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "medview-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
