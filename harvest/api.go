// CLAUDE:SUMMARY Admin HTTP API: open read endpoints plus bcrypt-guarded harvest/proxy/cache mutations on a chi router.
package harvest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/yangqingmang/find-demand-sub000/proxypool"
	"github.com/yangqingmang/find-demand-sub000/shield"
)

// Routes builds the admin API router. Read routes are open; mutating routes
// go through the admin key guard.
func (svc *Service) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", svc.handleHealth)
	r.Get("/stats", svc.handleStats)
	r.Get("/proxies", svc.handleListProxies)
	r.Get("/cooldowns", svc.handleCooldowns)

	r.Group(func(r chi.Router) {
		r.Use(svc.requireAdminKey)
		r.Post("/harvest", svc.handleHarvest)
		r.Post("/proxies", svc.handleAddProxy)
		r.Post("/proxies/probe", svc.handleProbeProxies)
		r.Post("/cache/purge", svc.handlePurgeCache)
	})
	return r
}

// requireAdminKey rejects mutating calls whose X-Admin-Key header does not
// match the configured bcrypt hash. An empty hash disables the guard.
func (svc *Service) requireAdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := svc.cfg.AdminKeyHash
		if hash == "" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-Admin-Key")
		if key == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid admin key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (svc *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"trends_ready": svc.trends.Ready(),
	})
}

func (svc *Service) handleHarvest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seeds   []string `json:"seeds"`
		Sources []string `json:"sources"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := svc.HarvestSources(r.Context(), req.Seeds, req.Sources)
	if err != nil {
		shield.GetLogger(r.Context()).Warn("harvest rejected", "error", err)
		if errors.Is(err, ErrUnknownSource) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (svc *Service) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"telemetry": svc.sink.Snapshot(),
		"windows":   svc.coord.WindowUsage(),
		"proxies":   svc.pool.Len(),
	})
}

func (svc *Service) handleListProxies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, svc.pool.Snapshot())
}

func (svc *Service) handleAddProxy(w http.ResponseWriter, r *http.Request) {
	var e proxypool.Entry
	if err := readJSON(r, &e); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if e.Host == "" || e.Port <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("host and port are required"))
		return
	}
	svc.pool.Add(e)
	shield.GetLogger(r.Context()).Info("proxy added", "key", e.Key())
	writeJSON(w, http.StatusCreated, map[string]string{"status": "added", "key": e.Key()})
}

func (svc *Service) handleProbeProxies(w http.ResponseWriter, r *http.Request) {
	healthy := svc.pool.ProbeAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{
		"healthy": healthy,
		"total":   svc.pool.Len(),
	})
}

type cooldownStatus struct {
	Until     time.Time     `json:"until"`
	Remaining time.Duration `json:"remaining"`
}

func (svc *Service) handleCooldowns(w http.ResponseWriter, _ *http.Request) {
	now := svc.now()
	out := make(map[string]cooldownStatus)
	for domain, until := range svc.coord.Cooldowns() {
		out[domain] = cooldownStatus{Until: until, Remaining: until.Sub(now)}
	}
	writeJSON(w, http.StatusOK, out)
}

func (svc *Service) handlePurgeCache(w http.ResponseWriter, r *http.Request) {
	n, err := svc.store.PurgeExpired(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": n})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
