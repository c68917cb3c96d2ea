package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"stockvolley/db"
	"stockvolley/ws"
)

// newTestRouter wires the handler exactly like main does, against an empty
// registry and no backends: games run purely in memory.
func newTestRouter(t *testing.T) (*mux.Router, *ws.Registry) {
	t.Helper()
	registry := ws.NewRegistry(nil)
	handler := NewHandler(registry, db.NewStore())

	router := mux.NewRouter()
	router.HandleFunc("/api/games", handler.HandleCreateGame).Methods(http.MethodPost)
	router.HandleFunc("/api/games", handler.HandleListGames).Methods(http.MethodGet)
	router.HandleFunc("/api/games/{gameId}", handler.HandleGetGame).Methods(http.MethodGet)
	router.HandleFunc("/api/games/{gameId}/start", handler.HandleStartGame).Methods(http.MethodPost)
	router.HandleFunc("/api/games/{gameId}/stop", handler.HandleStopGame).Methods(http.MethodPost)
	router.HandleFunc("/api/leaderboard", handler.HandleGetLeaderboard).Methods(http.MethodGet)
	router.HandleFunc("/api/health", handler.HandleHealth).Methods(http.MethodGet)
	return router, registry
}

func doJSON(t *testing.T, router *mux.Router, method, path, body string, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec
}

func TestCreateGame(t *testing.T) {
	router, registry := newTestRouter(t)

	var resp CreateGameResponse
	rec := doJSON(t, router, http.MethodPost, "/api/games", `{"maxVolleys": 50}`, &resp)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !resp.Success || resp.GameID == "" {
		t.Fatalf("Unexpected response: %+v", resp)
	}
	if resp.MaxVolleys != 50 {
		t.Errorf("Expected maxVolleys 50, got %d", resp.MaxVolleys)
	}
	if len(resp.SeedHash) != 64 {
		t.Errorf("Expected 64-char seed hash, got %q", resp.SeedHash)
	}

	room, err := registry.Resolve(resp.GameID)
	if err != nil {
		t.Fatalf("Created game has no live room: %v", err)
	}
	defer room.ForceStop()

	snap, err := room.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Status != ws.StatusWaiting {
		t.Errorf("New room not waiting: %s", snap.Status)
	}
	if len(snap.Stocks) == 0 {
		t.Error("New room has no stocks")
	}
}

func TestCreateGameDefaultsOnEmptyBody(t *testing.T) {
	router, registry := newTestRouter(t)

	var resp CreateGameResponse
	rec := doJSON(t, router, http.MethodPost, "/api/games", "", &resp)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", rec.Code)
	}
	if resp.MaxVolleys != 300 {
		t.Errorf("Expected default maxVolleys 300, got %d", resp.MaxVolleys)
	}
	if room, err := registry.Resolve(resp.GameID); err == nil {
		room.ForceStop()
	}
}

func TestCreateGameRejectsOutOfRange(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/games", `{"maxVolleys": -1}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for negative maxVolleys, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/games", `{"tickIntervalMs": 9999999}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for huge tick interval, got %d", rec.Code)
	}
}

func TestCreateGameRejectsMalformedBody(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/games", `{"maxVolleys": `, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for truncated JSON body, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/games", `not json at all`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-JSON body, got %d", rec.Code)
	}
}

func TestGetGame(t *testing.T) {
	router, registry := newTestRouter(t)

	var created CreateGameResponse
	doJSON(t, router, http.MethodPost, "/api/games", "", &created)
	if room, err := registry.Resolve(created.GameID); err == nil {
		defer room.ForceStop()
	}

	var resp GameResponse
	rec := doJSON(t, router, http.MethodGet, "/api/games/"+created.GameID, "", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if resp.Game.GameID != created.GameID {
		t.Errorf("Wrong game returned: %s", resp.Game.GameID)
	}
	if resp.Game.SeedHash != created.SeedHash {
		t.Errorf("Seed hash mismatch: %s vs %s", resp.Game.SeedHash, created.SeedHash)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/games/unknown-id", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown game, got %d", rec.Code)
	}
}

func TestListGamesFromRegistry(t *testing.T) {
	router, registry := newTestRouter(t)

	var created CreateGameResponse
	doJSON(t, router, http.MethodPost, "/api/games", "", &created)
	if room, err := registry.Resolve(created.GameID); err == nil {
		defer room.ForceStop()
	}

	var resp GameListResponse
	rec := doJSON(t, router, http.MethodGet, "/api/games", "", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if len(resp.Games) != 1 {
		t.Fatalf("Expected 1 game, got %d", len(resp.Games))
	}
	if resp.Games[0].GameID != created.GameID || resp.Games[0].Status != "waiting" {
		t.Errorf("Unexpected lobby entry: %+v", resp.Games[0])
	}
}

func TestStartAndStopGame(t *testing.T) {
	router, registry := newTestRouter(t)

	var created CreateGameResponse
	doJSON(t, router, http.MethodPost, "/api/games", "", &created)
	room, err := registry.Resolve(created.GameID)
	if err != nil {
		t.Fatalf("No room for created game: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/api/games/"+created.GameID+"/start", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Start returned %d", rec.Code)
	}
	waitForStatus(t, room, ws.StatusActive)

	rec = doJSON(t, router, http.MethodPost, "/api/games/"+created.GameID+"/stop", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Stop returned %d", rec.Code)
	}

	// A stopped game leaves the registry; further control calls 404.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := registry.Resolve(created.GameID); err == ws.ErrRoomNotFound {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec = doJSON(t, router, http.MethodPost, "/api/games/"+created.GameID+"/stop", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 stopping a finished game, got %d", rec.Code)
	}
}

func waitForStatus(t *testing.T, room *ws.Room, status ws.RoomStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := room.Snapshot()
		if err == nil && snap.Status == status {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Room never reached status %s", status)
}

func TestLeaderboardWithoutDatabase(t *testing.T) {
	router, _ := newTestRouter(t)

	var resp LeaderboardResponse
	rec := doJSON(t, router, http.MethodGet, "/api/leaderboard", "", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !resp.Success || resp.Leaderboard == nil {
		t.Errorf("Expected empty leaderboard, got %+v", resp)
	}
	if len(resp.Leaderboard) != 0 {
		t.Errorf("Expected no entries, got %d", len(resp.Leaderboard))
	}
}

func TestHealthDegraded(t *testing.T) {
	router, _ := newTestRouter(t)

	var resp HealthResponse
	rec := doJSON(t, router, http.MethodGet, "/api/health", "", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if resp.Status != "ok" {
		t.Errorf("Expected overall ok, got %s", resp.Status)
	}
	if resp.Postgres != "unavailable" || resp.Redis != "unavailable" {
		t.Errorf("Expected degraded backends, got %+v", resp)
	}
}
