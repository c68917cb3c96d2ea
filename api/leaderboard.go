package api

import (
	"log"
	"net/http"

	"stockvolley/config"
	"stockvolley/db"
)

// LeaderboardResponse represents the leaderboard API response
type LeaderboardResponse struct {
	Success     bool                   `json:"success"`
	Leaderboard []*db.LeaderboardEntry `json:"leaderboard"`
}

// HandleGetLeaderboard handles GET /api/leaderboard
// Top players by cumulative profit across all finished games.
func (h *Handler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := db.GetLeaderboard(r.Context(), config.LeaderboardLimit)
	if err != nil {
		log.Printf("❌ Failed to get leaderboard: %v", err)
		sendError(w, http.StatusInternalServerError, "Failed to retrieve leaderboard")
		return
	}
	if entries == nil {
		entries = []*db.LeaderboardEntry{}
	}
	sendJSON(w, http.StatusOK, LeaderboardResponse{Success: true, Leaderboard: entries})
}
