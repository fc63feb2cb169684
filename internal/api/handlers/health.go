package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/voxgate/voxgate/internal/health"
	"github.com/voxgate/voxgate/internal/provider"
)

type HealthHandler struct {
	db       *pgxpool.Pool
	redis    *redis.Client
	registry *provider.Registry
	tracker  *health.Tracker
}

func NewHealthHandler(db *pgxpool.Pool, rdb *redis.Client, registry *provider.Registry, tracker *health.Tracker) *HealthHandler {
	return &HealthHandler{db: db, redis: rdb, registry: registry, tracker: tracker}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}

	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			checks["database"] = "unhealthy: " + err.Error()
		} else {
			checks["database"] = "ok"
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(r.Context()).Err(); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	for _, v := range checks {
		if v != "ok" {
			status = http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, status, map[string]interface{}{"status": statusStr(status), "checks": checks})
}

// Status reports the configured providers and their recent session error
// rates over a five-minute window.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	providers := []string{}
	for _, p := range h.registry.ConfiguredProviders() {
		providers = append(providers, p.String())
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"providers": providers,
		"sessions":  h.tracker.Snapshot(),
	})
}

func statusStr(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "unhealthy"
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
