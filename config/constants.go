package config

import "time"

/* =========================
   GAME MECHANICS
========================= */

const (
	// Player economy
	StartingCash = 1000.00 // every participant starts with this balance

	// Room lifecycle
	DefaultMaxVolleys    = 300             // volleys before the game ends
	DefaultTickInterval  = 2 * time.Second // one volley every 2s
	AutoStartPlayerCount = 2               // Waiting -> Active once this many players joined

	// Price model coefficients
	TradeImpactFactor   = 0.08 // max 8% of price per volley from lopsided flow
	VolatilityFactor    = 0.06 // symmetric noise up to ±3% of price
	MeanReversionFactor = 0.15 // pull back 15% of deviation from reference
	PriceFloor          = 0.01 // prices never drop below one cent
)

/* =========================
   WEBSOCKET CONFIGURATION
========================= */

const (
	// Buffer sizes
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024

	// Per-session outbound queue; a session that falls this far behind
	// is disconnected rather than allowed to stall the room loop
	SessionSendBuffer = 256

	// Per-frame write deadline; a dead peer cannot pin the write pump
	WSWriteWait = 10 * time.Second

	// Close codes
	CloseSuperseded   = 4000
	CloseInvalidToken = 4001
	CloseRoomNotFound = 4002
	CloseGameFinished = 1000
)

/* =========================
   REDIS TTL CONFIGURATION
========================= */

const (
	// Live room lobby entry TTL; refreshed on every status change
	// Key: room:{gameId}
	LiveRoomTTL = 2 * time.Hour
)

/* =========================
   REDIS KEY PATTERNS
========================= */

const (
	RedisLiveRoomKey    = "room:%s" // room:{gameId}
	RedisLiveRoomPrefix = "room:"
)

/* =========================
   POSTGRESQL CONFIGURATION
========================= */

const (
	// Connection pool settings
	MaxConns        = 25
	MinConns        = 5
	ConnMaxLifetime = 5 * time.Minute

	// Fire-and-forget write deadline
	GatewayWriteTimeout = 5 * time.Second
)

/* =========================
   API CONFIGURATION
========================= */

const (
	ServerHost = "0.0.0.0"
	ServerPort = "8080"

	LeaderboardLimit = 20
)
