package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"stockvolley/api"
	"stockvolley/auth"
	"stockvolley/config"
	"stockvolley/crypto"
	"stockvolley/db"
	"stockvolley/ws"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables")
	} else {
		log.Println("✅ Loaded environment variables from .env")
	}

	// Initialize database connections
	if err := db.InitPostgres(); err != nil {
		log.Printf("⚠️  Warning: PostgreSQL initialization failed: %v", err)
		log.Println("   Game history and leaderboard features will be disabled")
	} else {
		if err := db.SeedReferenceStocks(context.Background()); err != nil {
			log.Printf("⚠️  Warning: Reference stock seeding failed: %v", err)
		}
	}
	defer db.ClosePostgres()

	if err := db.InitRedis(); err != nil {
		log.Printf("⚠️  Warning: Redis initialization failed: %v", err)
		log.Println("   Live game lobby will be served from memory only")
	}
	defer db.CloseRedis()

	verifier, err := auth.NewVerifierFromEnv()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	store := db.NewStore()
	registry := ws.NewRegistry(roomLoader(store))
	wsServer := ws.NewServer(verifier, registry)
	handler := api.NewHandler(registry, store)

	router := mux.NewRouter()

	// WebSocket endpoint
	router.HandleFunc("/ws/{gameId}", wsServer.HandleGameWS)

	// API endpoints
	router.HandleFunc("/api/games", handler.HandleCreateGame).Methods(http.MethodPost)
	router.HandleFunc("/api/games", handler.HandleListGames).Methods(http.MethodGet)
	router.HandleFunc("/api/games/{gameId}", handler.HandleGetGame).Methods(http.MethodGet)
	router.HandleFunc("/api/games/{gameId}/start", handler.HandleStartGame).Methods(http.MethodPost)
	router.HandleFunc("/api/games/{gameId}/stop", handler.HandleStopGame).Methods(http.MethodPost)
	router.HandleFunc("/api/leaderboard", handler.HandleGetLeaderboard).Methods(http.MethodGet)
	router.HandleFunc("/api/health", handler.HandleHealth).Methods(http.MethodGet)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	}).Handler(router)

	port := os.Getenv("PORT")
	if port == "" {
		port = config.ServerPort
	}
	addr := config.ServerHost + ":" + port
	log.Printf("🚀 Server starting on %s", addr)
	log.Println("")
	log.Println("📡 WebSocket Endpoints:")
	log.Println("   ws://localhost:8080/ws/:gameId?token=<jwt> - Join a game room")
	log.Println("")
	log.Println("🔌 API Endpoints:")
	log.Println("   POST /api/games - Create a game room")
	log.Println("   GET  /api/games - List live game rooms")
	log.Println("   GET  /api/games/:gameId - Get room state")
	log.Println("   POST /api/games/:gameId/start - Start a waiting room")
	log.Println("   POST /api/games/:gameId/stop - Force-end a room")
	log.Println("   GET  /api/leaderboard - Top players by profit")
	log.Println("   GET  /api/health - Health check (Redis + PostgreSQL)")
	log.Println("")

	if err := http.ListenAndServe(addr, corsHandler); err != nil {
		log.Fatal("❌ Server error:", err)
	}
}

// roomLoader revives a durably-stored, unfinished game whose room is not in
// memory (typically after a restart). The revived room resumes at the
// persisted volley. The original seed is never persisted, so a revived room
// gets a fresh seed and hash; balances and holdings do not survive a
// restart, only the game row and its audit trail.
func roomLoader(store *db.Store) ws.RoomLoader {
	return func(ctx context.Context, gameID string) (*ws.RoomConfig, error) {
		rec, err := db.GetGame(ctx, gameID)
		if err != nil {
			return nil, err
		}
		if rec == nil || rec.Status == "finished" {
			return nil, ws.ErrRoomNotFound
		}

		stocks, err := db.GetStocksReference(ctx)
		if err != nil {
			return nil, err
		}
		if len(stocks) == 0 {
			return nil, ws.ErrRoomNotFound
		}

		seed, seedHash := crypto.GenerateRoomSeed()
		log.Printf("🌱 Reviving game %s from storage (volley %d/%d)", gameID, rec.CurrentVolley, rec.MaxVolleys)
		return &ws.RoomConfig{
			GameID:      rec.GameID,
			Stocks:      stocks,
			MaxVolleys:  rec.MaxVolleys,
			StartVolley: rec.CurrentVolley,
			Seed:        seed,
			SeedHash:    seedHash,
			Store:       store,
		}, nil
	}
}
