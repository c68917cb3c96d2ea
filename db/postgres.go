package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"stockvolley/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// PostgresPool is the global PostgreSQL connection pool
	PostgresPool *pgxpool.Pool
)

// StockReference is a row of the stock reference table: the starting price
// and precomputed historical series a game room initializes from.
type StockReference struct {
	Ticker       string    `json:"ticker"`
	CompanyName  string    `json:"companyName"`
	InitialPrice float64   `json:"initialPrice"`
	Historical   []float64 `json:"historical"`
}

// GameRecord is the durable row for a game.
type GameRecord struct {
	GameID        string    `json:"gameId"`
	Status        string    `json:"status"`
	CurrentVolley int       `json:"currentVolley"`
	MaxVolleys    int       `json:"maxVolleys"`
	SeedHash      string    `json:"seedHash"`
	WinnerID      *string   `json:"winnerId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// TransactionRecord is one committed trade, written fire-and-forget as an
// audit trail; the in-memory room state stays authoritative for gameplay.
type TransactionRecord struct {
	GameID        string    `json:"gameId"`
	PlayerID      string    `json:"playerId"`
	Ticker        string    `json:"ticker"`
	Volley        int       `json:"volley"`
	Type          string    `json:"type"` // "buy" or "sell"
	Quantity      int64     `json:"quantity"`
	PricePerShare float64   `json:"pricePerShare"`
	TotalValue    float64   `json:"totalValue"`
	CreatedAt     time.Time `json:"createdAt"`
}

// StandingRecord is one player's final ranking at game end.
type StandingRecord struct {
	PlayerID       string  `json:"player"`
	DisplayName    string  `json:"displayName"`
	Rank           int     `json:"rank"`
	CashRemaining  float64 `json:"cashRemaining"`
	PortfolioValue float64 `json:"portfolioValue"`
	TotalValue     float64 `json:"totalValue"`
}

// InitPostgres initializes the PostgreSQL connection pool
func InitPostgres() error {
	log.Println("🔌 Connecting to PostgreSQL...")

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = config.MaxConns
	poolConfig.MinConns = config.MinConns
	poolConfig.MaxConnLifetime = config.ConnMaxLifetime

	PostgresPool, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := PostgresPool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ PostgreSQL connected successfully")

	if err := InitSchema(context.Background()); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// ClosePostgres closes the PostgreSQL connection pool
func ClosePostgres() {
	if PostgresPool != nil {
		log.Println("🔌 Closing PostgreSQL connection...")
		PostgresPool.Close()
	}
}

// InitSchema creates the database tables if they don't exist
func InitSchema(ctx context.Context) error {
	log.Println("📋 Initializing database schema...")

	stocksSchema := `
	CREATE TABLE IF NOT EXISTS stocks (
		ticker TEXT PRIMARY KEY,
		company_name TEXT NOT NULL,
		initial_price DOUBLE PRECISION NOT NULL,
		historical_data JSONB NOT NULL
	);
	`

	if _, err := PostgresPool.Exec(ctx, stocksSchema); err != nil {
		return fmt.Errorf("failed to create stocks table: %w", err)
	}

	gamesSchema := `
	CREATE TABLE IF NOT EXISTS games (
		game_id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'active',
		current_volley INT NOT NULL DEFAULT 0,
		max_volleys INT NOT NULL,
		seed_hash TEXT NOT NULL DEFAULT '',
		winner_id TEXT,
		standings JSONB,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_games_status ON games(status);
	`

	if _, err := PostgresPool.Exec(ctx, gamesSchema); err != nil {
		return fmt.Errorf("failed to create games table: %w", err)
	}

	participantsSchema := `
	CREATE TABLE IF NOT EXISTS gameparticipants (
		participant_id SERIAL PRIMARY KEY,
		game_id TEXT NOT NULL,
		player_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		starting_balance DOUBLE PRECISION NOT NULL,
		final_value DOUBLE PRECISION,
		joined_at TIMESTAMP NOT NULL DEFAULT NOW(),
		UNIQUE(game_id, player_id)
	);

	CREATE INDEX IF NOT EXISTS idx_participants_game ON gameparticipants(game_id);
	CREATE INDEX IF NOT EXISTS idx_participants_player ON gameparticipants(player_id);
	`

	if _, err := PostgresPool.Exec(ctx, participantsSchema); err != nil {
		return fmt.Errorf("failed to create gameparticipants table: %w", err)
	}

	transactionsSchema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id SERIAL PRIMARY KEY,
		game_id TEXT NOT NULL,
		player_id TEXT NOT NULL,
		ticker TEXT NOT NULL,
		volley INT NOT NULL,
		transaction_type TEXT NOT NULL,
		quantity BIGINT NOT NULL,
		price_per_share DOUBLE PRECISION NOT NULL,
		total_value DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_game ON transactions(game_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_player ON transactions(player_id);
	`

	if _, err := PostgresPool.Exec(ctx, transactionsSchema); err != nil {
		return fmt.Errorf("failed to create transactions table: %w", err)
	}

	pricesSchema := `
	CREATE TABLE IF NOT EXISTS gamestockprices (
		game_id TEXT NOT NULL,
		ticker TEXT NOT NULL,
		volley INT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (game_id, ticker, volley)
	);
	`

	if _, err := PostgresPool.Exec(ctx, pricesSchema); err != nil {
		return fmt.Errorf("failed to create gamestockprices table: %w", err)
	}

	log.Println("✅ Database schema initialized")
	return nil
}

/* =========================
   STOCK REFERENCE
========================= */

// GetStocksReference returns the full stock reference table
func GetStocksReference(ctx context.Context) ([]StockReference, error) {
	if PostgresPool == nil {
		return nil, fmt.Errorf("PostgreSQL connection pool not initialized")
	}

	query := `
		SELECT ticker, company_name, initial_price, historical_data
		FROM stocks
		ORDER BY ticker
	`

	rows, err := PostgresPool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query stocks: %w", err)
	}
	defer rows.Close()

	var refs []StockReference
	for rows.Next() {
		var ref StockReference
		var historicalJSON []byte
		if err := rows.Scan(&ref.Ticker, &ref.CompanyName, &ref.InitialPrice, &historicalJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(historicalJSON, &ref.Historical); err != nil {
			return nil, fmt.Errorf("failed to unmarshal historical data: %w", err)
		}
		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return refs, nil
}

// SeedReferenceStocks inserts a demo stock universe if the reference table
// is empty. Historical series are random walks from the initial price, long
// enough to cover a full game.
func SeedReferenceStocks(ctx context.Context) error {
	if PostgresPool == nil {
		return nil
	}

	var count int
	if err := PostgresPool.QueryRow(ctx, "SELECT COUNT(*) FROM stocks").Scan(&count); err != nil {
		return fmt.Errorf("failed to count stocks: %w", err)
	}
	if count > 0 {
		return nil
	}

	seeds := []struct {
		ticker  string
		company string
		price   float64
	}{
		{"ACME", "Acme Holdings", 50.00},
		{"GLOB", "Globex Corporation", 120.00},
		{"INIT", "Initech Systems", 35.00},
		{"VNDL", "Vandelay Industries", 80.00},
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for _, s := range seeds {
		series := make([]float64, config.DefaultMaxVolleys+1)
		price := s.price
		for i := range series {
			series[i] = price
			price += (rng.Float64() - 0.5) * 0.04 * price
			if price < config.PriceFloor {
				price = config.PriceFloor
			}
		}
		seriesJSON, err := json.Marshal(series)
		if err != nil {
			return fmt.Errorf("failed to marshal series: %w", err)
		}
		_, err = PostgresPool.Exec(ctx, `
			INSERT INTO stocks (ticker, company_name, initial_price, historical_data)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (ticker) DO NOTHING
		`, s.ticker, s.company, s.price, seriesJSON)
		if err != nil {
			return fmt.Errorf("failed to seed stock %s: %w", s.ticker, err)
		}
	}

	log.Printf("🌱 Seeded %d reference stocks", len(seeds))
	return nil
}

/* =========================
   GAMES
========================= */

// CreateGame inserts a new game row and its volley-0 prices
func CreateGame(ctx context.Context, gameID string, maxVolleys int, seedHash string) error {
	if PostgresPool == nil {
		log.Println("⚠️  PostgreSQL not initialized, skipping game creation")
		return nil
	}

	_, err := PostgresPool.Exec(ctx, `
		INSERT INTO games (game_id, status, current_volley, max_volleys, seed_hash)
		VALUES ($1, 'active', 0, $2, $3)
		ON CONFLICT (game_id) DO NOTHING
	`, gameID, maxVolleys, seedHash)
	if err != nil {
		return fmt.Errorf("failed to create game: %w", err)
	}

	// Seed the game's starting prices from the reference table
	_, err = PostgresPool.Exec(ctx, `
		INSERT INTO gamestockprices (game_id, ticker, volley, price)
		SELECT $1, ticker, 0, initial_price FROM stocks
		ON CONFLICT DO NOTHING
	`, gameID)
	if err != nil {
		return fmt.Errorf("failed to seed game prices: %w", err)
	}

	log.Printf("✅ Created game %s (max volleys: %d)", gameID, maxVolleys)
	return nil
}

// GetGame retrieves a game row by id
func GetGame(ctx context.Context, gameID string) (*GameRecord, error) {
	if PostgresPool == nil {
		return nil, nil
	}

	query := `
		SELECT game_id, status, current_volley, max_volleys, seed_hash, winner_id, created_at
		FROM games
		WHERE game_id = $1
	`

	var rec GameRecord
	err := PostgresPool.QueryRow(ctx, query, gameID).Scan(
		&rec.GameID,
		&rec.Status,
		&rec.CurrentVolley,
		&rec.MaxVolleys,
		&rec.SeedHash,
		&rec.WinnerID,
		&rec.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil // Game not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game: %w", err)
	}

	return &rec, nil
}

/* =========================
   PARTICIPANTS
========================= */

// EnsureParticipant registers a player in a game, reusing the existing
// participant row on reconnect. Idempotent: one row per (game, player).
func EnsureParticipant(ctx context.Context, gameID, playerID, displayName string, startingBalance float64) (int64, error) {
	if PostgresPool == nil {
		log.Println("⚠️  PostgreSQL not initialized, skipping participant registration")
		return 0, nil
	}

	_, err := PostgresPool.Exec(ctx, `
		INSERT INTO gameparticipants (game_id, player_id, display_name, starting_balance)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (game_id, player_id) DO NOTHING
	`, gameID, playerID, displayName, startingBalance)
	if err != nil {
		return 0, fmt.Errorf("failed to insert participant: %w", err)
	}

	var participantID int64
	err = PostgresPool.QueryRow(ctx, `
		SELECT participant_id FROM gameparticipants
		WHERE game_id = $1 AND player_id = $2
	`, gameID, playerID).Scan(&participantID)
	if err != nil {
		return 0, fmt.Errorf("failed to get participant id: %w", err)
	}

	return participantID, nil
}

/* =========================
   TRANSACTIONS & PRICE HISTORY
========================= */

// RecordTransaction stores one committed trade
func RecordTransaction(ctx context.Context, rec *TransactionRecord) error {
	if PostgresPool == nil {
		return nil
	}

	_, err := PostgresPool.Exec(ctx, `
		INSERT INTO transactions
		(game_id, player_id, ticker, volley, transaction_type, quantity, price_per_share, total_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.GameID, rec.PlayerID, rec.Ticker, rec.Volley, rec.Type,
		rec.Quantity, rec.PricePerShare, rec.TotalValue, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}

	return nil
}

// RecordPriceTicks stores one volley's prices for every stock and bumps the
// game's current volley
func RecordPriceTicks(ctx context.Context, gameID string, volley int, prices map[string]float64) error {
	if PostgresPool == nil {
		return nil
	}

	for ticker, price := range prices {
		_, err := PostgresPool.Exec(ctx, `
			INSERT INTO gamestockprices (game_id, ticker, volley, price)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING
		`, gameID, ticker, volley, price)
		if err != nil {
			return fmt.Errorf("failed to record price tick for %s: %w", ticker, err)
		}
	}

	_, err := PostgresPool.Exec(ctx, `
		UPDATE games SET current_volley = $2 WHERE game_id = $1
	`, gameID, volley)
	if err != nil {
		return fmt.Errorf("failed to update game volley: %w", err)
	}

	return nil
}

/* =========================
   GAME COMPLETION
========================= */

// RecordGameCompletion marks a game finished with its winner and standings,
// and writes each participant's final value
func RecordGameCompletion(ctx context.Context, gameID, winnerID string, standings []StandingRecord) error {
	if PostgresPool == nil {
		return nil
	}

	standingsJSON, err := json.Marshal(standings)
	if err != nil {
		return fmt.Errorf("failed to marshal standings: %w", err)
	}

	_, err = PostgresPool.Exec(ctx, `
		UPDATE games
		SET status = 'finished', winner_id = $2, standings = $3, completed_at = NOW()
		WHERE game_id = $1
	`, gameID, winnerID, standingsJSON)
	if err != nil {
		return fmt.Errorf("failed to mark game finished: %w", err)
	}

	for _, s := range standings {
		_, err = PostgresPool.Exec(ctx, `
			UPDATE gameparticipants
			SET final_value = $3
			WHERE game_id = $1 AND player_id = $2
		`, gameID, s.PlayerID, s.TotalValue)
		if err != nil {
			return fmt.Errorf("failed to record final value for %s: %w", s.PlayerID, err)
		}
	}

	log.Printf("🏁 Recorded completion of game %s (winner: %s)", gameID, winnerID)
	return nil
}

/* =========================
   LEADERBOARD
========================= */

// LeaderboardEntry is a player's cumulative profit across completed games
type LeaderboardEntry struct {
	PlayerID    string  `json:"playerId"`
	DisplayName string  `json:"displayName"`
	Profit      float64 `json:"profit"`
	Rank        int     `json:"rank"`
}

// GetLeaderboard returns the top players by total profit over all finished
// games, sorted descending
func GetLeaderboard(ctx context.Context, limit int) ([]*LeaderboardEntry, error) {
	if PostgresPool == nil {
		return []*LeaderboardEntry{}, nil
	}

	query := `
		SELECT player_id, MAX(display_name), SUM(final_value - starting_balance) AS profit
		FROM gameparticipants
		WHERE final_value IS NOT NULL
		GROUP BY player_id
		ORDER BY profit DESC
		LIMIT $1
	`

	rows, err := PostgresPool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []*LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.PlayerID, &e.DisplayName, &e.Profit); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		e.Rank = len(entries) + 1
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return entries, nil
}

/* =========================
   HEALTH CHECK
========================= */

// HealthCheckPostgres performs a PostgreSQL health check
func HealthCheckPostgres(ctx context.Context) error {
	if PostgresPool == nil {
		return fmt.Errorf("PostgreSQL connection pool not initialized")
	}
	return PostgresPool.Ping(ctx)
}
