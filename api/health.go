package api

import (
	"net/http"

	"stockvolley/db"
)

// HealthResponse reports backend reachability and live room count. The
// process is healthy even with degraded backends; gameplay is in-memory.
type HealthResponse struct {
	Status    string `json:"status"`
	Postgres  string `json:"postgres"`
	Redis     string `json:"redis"`
	LiveRooms int    `json:"liveRooms"`
}

// HandleHealth handles GET /api/health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Postgres:  "ok",
		Redis:     "ok",
		LiveRooms: h.Registry.Count(),
	}
	if err := db.HealthCheckPostgres(r.Context()); err != nil {
		resp.Postgres = "unavailable"
	}
	if err := db.HealthCheck(r.Context()); err != nil {
		resp.Redis = "unavailable"
	}
	sendJSON(w, http.StatusOK, resp)
}
