package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"stockvolley/config"
	"stockvolley/crypto"
	"stockvolley/db"
	"stockvolley/game"
	"stockvolley/ws"
)

/* =========================
   REQUEST/RESPONSE TYPES
========================= */

// CreateGameRequest represents the game creation request. All fields are
// optional; zero values fall back to server defaults.
type CreateGameRequest struct {
	MaxVolleys     int `json:"maxVolleys,omitempty"`
	TickIntervalMs int `json:"tickIntervalMs,omitempty"`
}

// CreateGameResponse represents the game creation response
type CreateGameResponse struct {
	Success    bool   `json:"success"`
	GameID     string `json:"gameId"`
	SeedHash   string `json:"seedHash"`
	MaxVolleys int    `json:"maxVolleys"`
}

// GameListResponse represents the live game lobby
type GameListResponse struct {
	Success bool               `json:"success"`
	Games   []*db.LiveRoomInfo `json:"games"`
}

// GameResponse represents a single game's state
type GameResponse struct {
	Success bool             `json:"success"`
	Game    *ws.RoomSnapshot `json:"game"`
}

// ActionResponse represents a start/stop acknowledgement
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

/* =========================
   HANDLER
========================= */

// Handler carries the room registry behind the HTTP surface.
type Handler struct {
	Registry *ws.Registry
	Store    *db.Store
}

func NewHandler(registry *ws.Registry, store *db.Store) *Handler {
	return &Handler{Registry: registry, Store: store}
}

/* =========================
   HTTP ENDPOINTS
========================= */

// HandleCreateGame handles POST /api/games
func (h *Handler) HandleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req CreateGameRequest
	if r.Body != nil {
		// An empty body is a valid "all defaults" request; anything else
		// must parse.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			sendError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if req.MaxVolleys < 0 || req.MaxVolleys > 10000 {
		sendError(w, http.StatusBadRequest, "maxVolleys out of range")
		return
	}
	if req.TickIntervalMs < 0 || req.TickIntervalMs > 60000 {
		sendError(w, http.StatusBadRequest, "tickIntervalMs out of range")
		return
	}

	gameID := uuid.NewString()
	seed, seedHash := crypto.GenerateRoomSeed()

	maxVolleys := req.MaxVolleys
	if maxVolleys == 0 {
		maxVolleys = config.DefaultMaxVolleys
	}
	tickInterval := config.DefaultTickInterval
	if req.TickIntervalMs > 0 {
		tickInterval = time.Duration(req.TickIntervalMs) * time.Millisecond
	}

	stocks, err := db.GetStocksReference(r.Context())
	if err != nil || len(stocks) == 0 {
		// No reference data available; synthesize a replayable set so the
		// game is playable without Postgres.
		stocks = syntheticStocks(seed, maxVolleys)
	}

	h.Registry.Create(ws.RoomConfig{
		GameID:       gameID,
		Stocks:       stocks,
		MaxVolleys:   maxVolleys,
		TickInterval: tickInterval,
		Seed:         seed,
		SeedHash:     seedHash,
		Store:        h.Store,
	})

	// Durable game record, fire-and-forget like the in-room writes.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), config.GatewayWriteTimeout)
		defer cancel()
		if db.PostgresPool == nil {
			return
		}
		if err := db.CreateGame(ctx, gameID, maxVolleys, seedHash); err != nil {
			log.Printf("⚠️  Failed to persist game %s: %v", gameID, err)
		}
	}()

	log.Printf("🎲 Game %s created (max volleys: %d, tick: %v)", gameID, maxVolleys, tickInterval)
	sendJSON(w, http.StatusCreated, CreateGameResponse{
		Success:    true,
		GameID:     gameID,
		SeedHash:   seedHash,
		MaxVolleys: maxVolleys,
	})
}

// HandleListGames handles GET /api/games
func (h *Handler) HandleListGames(w http.ResponseWriter, r *http.Request) {
	var games []*db.LiveRoomInfo
	var err error
	if db.RedisClient != nil {
		games, err = db.ListLiveRooms(r.Context())
	}
	if db.RedisClient == nil || err != nil {
		// Lobby cache unavailable; answer from the in-memory registry.
		games = make([]*db.LiveRoomInfo, 0)
		for _, snap := range h.Registry.Snapshots() {
			connected := 0
			for _, p := range snap.Players {
				if p.Connected {
					connected++
				}
			}
			games = append(games, &db.LiveRoomInfo{
				GameID:     snap.GameID,
				Status:     string(snap.Status),
				Players:    connected,
				Volley:     snap.Volley,
				MaxVolleys: snap.MaxVolleys,
			})
		}
	}
	if games == nil {
		games = make([]*db.LiveRoomInfo, 0)
	}
	sendJSON(w, http.StatusOK, GameListResponse{Success: true, Games: games})
}

// HandleGetGame handles GET /api/games/{gameId}
func (h *Handler) HandleGetGame(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["gameId"]

	room, err := h.Registry.Resolve(gameID)
	if err != nil {
		sendError(w, http.StatusNotFound, "Game not found")
		return
	}
	snap, err := room.Snapshot()
	if err != nil {
		sendError(w, http.StatusGone, "Game already completed")
		return
	}
	sendJSON(w, http.StatusOK, GameResponse{Success: true, Game: snap})
}

// HandleStartGame handles POST /api/games/{gameId}/start
func (h *Handler) HandleStartGame(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["gameId"]

	room, err := h.Registry.Resolve(gameID)
	if err != nil {
		sendError(w, http.StatusNotFound, "Game not found")
		return
	}
	room.Start()
	sendJSON(w, http.StatusOK, ActionResponse{Success: true, Message: "Game started"})
}

// HandleStopGame handles POST /api/games/{gameId}/stop
// Force-ends the game: holdings liquidate at current prices and final
// standings go out immediately.
func (h *Handler) HandleStopGame(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["gameId"]

	room, err := h.Registry.Resolve(gameID)
	if err != nil {
		sendError(w, http.StatusNotFound, "Game not found")
		return
	}
	room.ForceStop()
	sendJSON(w, http.StatusOK, ActionResponse{Success: true, Message: "Game stopped"})
}

/* =========================
   HELPER FUNCTIONS
========================= */

// syntheticStocks builds a deterministic reference set from the game seed so
// a room without durable reference data still has a replayable price path.
func syntheticStocks(seed string, maxVolleys int) []db.StockReference {
	demo := []struct {
		ticker  string
		company string
		price   float64
	}{
		{"ACME", "Acme Corp", 100.00},
		{"GLOB", "Globex Corporation", 75.00},
		{"INIT", "Initech Systems", 50.00},
		{"VNDL", "Vandelay Industries", 120.00},
	}

	rng := game.NewSeededRNG(seed + "-reference")
	stocks := make([]db.StockReference, 0, len(demo))
	for _, d := range demo {
		series := make([]float64, maxVolleys+1)
		price := d.price
		for i := range series {
			series[i] = game.RoundToDecimal(price, 2)
			price = game.NextPrice(rng, price, price, 0, 0)
		}
		stocks = append(stocks, db.StockReference{
			Ticker:       d.ticker,
			CompanyName:  d.company,
			InitialPrice: d.price,
			Historical:   series,
		})
	}
	return stocks
}

// sendJSON writes a JSON response
func sendJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

// sendError sends an error response
func sendError(w http.ResponseWriter, statusCode int, message string) {
	sendJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}
