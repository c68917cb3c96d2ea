package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"stockvolley/config"
	"stockvolley/db"
	"stockvolley/game"
)

// RoomStatus is the room lifecycle state machine:
// waiting -> active -> completed, with no way back out of completed.
type RoomStatus string

const (
	StatusWaiting   RoomStatus = "waiting"
	StatusActive    RoomStatus = "active"
	StatusCompleted RoomStatus = "completed"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomCompleted = errors.New("room already completed")

	// Business-rule rejections; sent to the offending player, never fatal.
	ErrStockNotFound      = errors.New("stock not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
)

// Gateway is the slice of the durable store the room calls. Every write is
// fire-and-forget: the in-memory room state is authoritative for gameplay
// and never waits on durability.
type Gateway interface {
	EnsureParticipant(ctx context.Context, gameID, playerID, displayName string, startingBalance float64) (int64, error)
	RecordTransaction(ctx context.Context, rec *db.TransactionRecord) error
	RecordPriceTicks(ctx context.Context, gameID string, volley int, prices map[string]float64) error
	RecordGameCompletion(ctx context.Context, gameID, winnerID string, standings []db.StandingRecord) error
	UpsertLiveRoom(ctx context.Context, info *db.LiveRoomInfo) error
	RemoveLiveRoom(ctx context.Context, gameID string) error
}

// StockState is one stock's in-room price state. Mutated only by the tick
// handler; the historical series is read-only reference data.
type StockState struct {
	Ticker            string
	CurrentPrice      float64
	PreviousTickPrice float64
	Historical        []float64
}

// ledgerEntry accumulates one stock's order flow within the current volley
// and is zeroed after every tick consumes it.
type ledgerEntry struct {
	buyVolume  int64
	sellVolume int64
}

// RoomConfig carries everything needed to build a room. Zero-valued fields
// fall back to the config package defaults.
type RoomConfig struct {
	GameID           string
	Stocks           []db.StockReference
	MaxVolleys       int
	StartVolley      int // non-zero when resuming a revived game
	TickInterval     time.Duration
	AutoStartPlayers int
	StartingCash     float64
	Seed             string
	SeedHash         string
	Store            Gateway // nil disables persistence
	OnComplete       func(gameID string)
}

// Room is one independent game instance. A single goroutine (Run) owns all
// mutable state; admits, removals, orders and the clock all arrive through
// the same command queue, so no two operations ever interleave and the tick
// can never race an order.
type Room struct {
	cfg RoomConfig

	status      RoomStatus
	volley      int
	joinCounter int
	sessions    map[string]*PlayerSession
	stocks      map[string]*StockState
	tickers     []string // fixed lexical order for deterministic tick processing
	ledger      map[string]*ledgerEntry
	rng         *rand.Rand

	createdAt time.Time

	ticker   *time.Ticker
	tickC    <-chan time.Time
	commands chan func()
	done     chan struct{}
}

// NewRoom builds a room in the Waiting state. Call Run in its own goroutine
// to bring it to life.
func NewRoom(cfg RoomConfig) *Room {
	if cfg.MaxVolleys <= 0 {
		cfg.MaxVolleys = config.DefaultMaxVolleys
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = config.DefaultTickInterval
	}
	if cfg.AutoStartPlayers <= 0 {
		cfg.AutoStartPlayers = config.AutoStartPlayerCount
	}
	if cfg.StartingCash <= 0 {
		cfg.StartingCash = config.StartingCash
	}
	if cfg.StartVolley < 0 {
		cfg.StartVolley = 0
	}

	r := &Room{
		cfg:       cfg,
		status:    StatusWaiting,
		volley:    cfg.StartVolley,
		sessions:  make(map[string]*PlayerSession),
		stocks:    make(map[string]*StockState),
		ledger:    make(map[string]*ledgerEntry),
		rng:       game.NewSeededRNG(cfg.Seed + "-" + cfg.GameID),
		createdAt: time.Now(),
		commands:  make(chan func()),
		done:      make(chan struct{}),
	}

	for _, ref := range cfg.Stocks {
		r.stocks[ref.Ticker] = &StockState{
			Ticker:            ref.Ticker,
			CurrentPrice:      ref.InitialPrice,
			PreviousTickPrice: ref.InitialPrice,
			Historical:        ref.Historical,
		}
		r.ledger[ref.Ticker] = &ledgerEntry{}
		r.tickers = append(r.tickers, ref.Ticker)
	}
	sort.Strings(r.tickers)

	return r
}

// Run is the room's single owning goroutine. It exits once the room
// completes.
func (r *Room) Run() {
	log.Printf("🎮 Room %s running (%d stocks, max volleys: %d)", r.cfg.GameID, len(r.stocks), r.cfg.MaxVolleys)
	r.syncLobby()

	for {
		select {
		case cmd := <-r.commands:
			cmd()
		case <-r.tickC:
			r.handleTick()
		}
		if r.status == StatusCompleted {
			return
		}
	}
}

// do delivers fn to the room goroutine. Returns false if the room already
// completed, in which case fn never runs.
func (r *Room) do(fn func()) bool {
	select {
	case r.commands <- fn:
		return true
	case <-r.done:
		return false
	}
}

/* =========================
   PUBLIC OPERATIONS
========================= */

// Admit registers a player in the room. On reconnect the previous connection
// is superseded and closed; economic state is preserved.
func (r *Room) Admit(identity Identity, conn Conn) {
	if !r.do(func() { r.handleAdmit(identity, conn) }) {
		// Room tore down while this connection was in flight.
		closeConn(conn, config.CloseGameFinished, "game finished")
	}
}

// Remove drops a connection from the live session set. The session's
// balance and holdings stay resident for reconnection.
func (r *Room) Remove(conn Conn) {
	r.do(func() { r.handleRemove(conn) })
}

// HandleOrder applies a validated buy/sell order for the player behind conn.
func (r *Room) HandleOrder(conn Conn, msg InboundMessage) {
	r.do(func() { r.handleOrder(conn, msg) })
}

// Reject sends an error message to the player behind conn. Used for inbound
// payloads that fail validation before they become orders.
func (r *Room) Reject(conn Conn, message string) {
	r.do(func() {
		for _, s := range r.sessions {
			if s.conn == conn {
				s.trySend(mustMarshal(ErrorMessage{Type: "error", Message: message}))
				return
			}
		}
	})
}

// Start triggers Waiting -> Active explicitly (operator start request).
func (r *Room) Start() {
	r.do(func() { r.start() })
}

// ForceStop ends the game early: holdings are liquidated at current prices
// and the normal completion path runs. Idempotent against racing the
// natural max-volley completion.
func (r *Room) ForceStop() {
	r.do(func() { r.complete() })
}

// RoomSnapshot is a point-in-time view of the room for the HTTP surface.
type RoomSnapshot struct {
	GameID     string        `json:"gameId"`
	Status     RoomStatus    `json:"status"`
	Volley     int           `json:"volley"`
	MaxVolleys int           `json:"maxVolleys"`
	SeedHash   string        `json:"seedHash"`
	Players    []PlayerInfo  `json:"players"`
	Stocks     []StockUpdate `json:"stocks"`
}

// PlayerInfo is the lobby-visible slice of a session.
type PlayerInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// Snapshot returns the room's current state, serialized through the command
// queue like every other read.
func (r *Room) Snapshot() (*RoomSnapshot, error) {
	reply := make(chan *RoomSnapshot, 1)
	if !r.do(func() { reply <- r.snapshot() }) {
		return nil, ErrRoomCompleted
	}
	return <-reply, nil
}

/* =========================
   ROOM-GOROUTINE HANDLERS
========================= */

func (r *Room) handleAdmit(identity Identity, conn Conn) {
	if r.status == StatusCompleted {
		closeConn(conn, config.CloseGameFinished, "game finished")
		return
	}

	s, exists := r.sessions[identity.ID]
	if exists {
		// Reconnect: supersede the old handle, keep balance and holdings.
		s.detach(config.CloseSuperseded, "superseded by reconnect")
		s.attach(conn)
		log.Printf("♻️  Player %s reconnected to room %s", identity.ID, r.cfg.GameID)
	} else {
		s = newPlayerSession(identity, r.cfg.StartingCash, r.joinCounter)
		r.joinCounter++
		s.attach(conn)
		r.sessions[identity.ID] = s
		log.Printf("✅ Player %s (%s) joined room %s (%d players)", identity.ID, identity.Name, r.cfg.GameID, len(r.sessions))

		// Durable participant record is best-effort; presence in the room
		// is the source of truth.
		if r.cfg.Store != nil {
			gameID, playerID, name, cash := r.cfg.GameID, s.ID, s.Name, r.cfg.StartingCash
			store := r.cfg.Store
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), config.GatewayWriteTimeout)
				defer cancel()
				pid, err := store.EnsureParticipant(ctx, gameID, playerID, name, cash)
				if err != nil {
					log.Printf("⚠️  Failed to register participant %s in game %s: %v", playerID, gameID, err)
					return
				}
				log.Printf("📝 Participant %s registered in game %s (id %d)", playerID, gameID, pid)
			}()
		}
	}

	if r.status == StatusActive {
		// Late join or reconnect into a running game: replay current prices.
		s.trySend(mustMarshal(r.gameStartMessage()))
	}

	r.syncLobby()

	if r.status == StatusWaiting && len(r.sessions) >= r.cfg.AutoStartPlayers {
		r.start()
	}
}

func (r *Room) handleRemove(conn Conn) {
	for _, s := range r.sessions {
		if s.conn == conn {
			s.detach(config.CloseGameFinished, "")
			log.Printf("👋 Player %s disconnected from room %s (state retained)", s.ID, r.cfg.GameID)
			r.syncLobby()
			return
		}
	}
}

func (r *Room) handleOrder(conn Conn, msg InboundMessage) {
	var s *PlayerSession
	for _, candidate := range r.sessions {
		if candidate.conn == conn {
			s = candidate
			break
		}
	}
	if s == nil {
		log.Printf("⚠️  Order from unknown connection in room %s, dropping", r.cfg.GameID)
		return
	}

	if r.status != StatusActive {
		s.trySend(mustMarshal(ErrorMessage{Type: "error", Message: "game is not active"}))
		return
	}

	price, netCashDelta, err := r.applyOrder(s, msg)
	if err != nil {
		s.trySend(mustMarshal(ErrorMessage{Type: "error", Message: err.Error()}))
		return
	}

	// Private confirmation to the initiator.
	s.trySend(mustMarshal(TransactionMessage{
		Type:         "transaction",
		Ticker:       msg.Ticker,
		Volume:       msg.Volume,
		NetCashDelta: netCashDelta,
		NewBalance:   s.Cash,
		NewHoldings:  s.Holdings[msg.Ticker],
	}))

	// Redacted event to everyone else.
	redacted := mustMarshal(PlayerTransactionMessage{
		Type:   "player_transaction",
		Player: s.Name,
		Action: msg.Action,
		Ticker: msg.Ticker,
		Volume: msg.Volume,
	})
	for _, other := range r.sessions {
		if other != s {
			other.trySend(redacted)
		}
	}

	// Audit trail, fire-and-forget.
	if r.cfg.Store != nil {
		rec := &db.TransactionRecord{
			GameID:        r.cfg.GameID,
			PlayerID:      s.ID,
			Ticker:        msg.Ticker,
			Volley:        r.volley,
			Type:          string(msg.Action),
			Quantity:      msg.Volume,
			PricePerShare: price,
			TotalValue:    price * float64(msg.Volume),
			CreatedAt:     time.Now(),
		}
		store := r.cfg.Store
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), config.GatewayWriteTimeout)
			defer cancel()
			if err := store.RecordTransaction(ctx, rec); err != nil {
				log.Printf("⚠️  Failed to record transaction in game %s: %v", rec.GameID, err)
			}
		}()
	}
}

// applyOrder validates and commits one order against the session, the
// stock, and the ledger. On rejection nothing is mutated. Returns the
// execution price and the signed cash delta.
func (r *Room) applyOrder(s *PlayerSession, msg InboundMessage) (float64, float64, error) {
	stock, ok := r.stocks[msg.Ticker]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrStockNotFound, msg.Ticker)
	}

	led := r.ledger[msg.Ticker]
	price := stock.CurrentPrice

	switch msg.Action {
	case ActionBuy:
		cost := price * float64(msg.Volume)
		if s.Cash < cost {
			return 0, 0, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, cost, s.Cash)
		}
		s.Cash -= cost
		s.Holdings[msg.Ticker] += msg.Volume
		led.buyVolume += msg.Volume
		return price, -cost, nil

	case ActionSell:
		held := s.Holdings[msg.Ticker]
		if held < msg.Volume {
			return 0, 0, fmt.Errorf("%w: hold %d, requested %d", ErrInsufficientShares, held, msg.Volume)
		}
		proceeds := price * float64(msg.Volume)
		s.Cash += proceeds
		s.Holdings[msg.Ticker] -= msg.Volume
		led.sellVolume += msg.Volume
		return price, proceeds, nil
	}

	return 0, 0, fmt.Errorf("unknown action %q", msg.Action)
}

// start moves Waiting -> Active and arms the clock.
func (r *Room) start() {
	if r.status != StatusWaiting {
		return
	}
	r.status = StatusActive
	r.ticker = time.NewTicker(r.cfg.TickInterval)
	r.tickC = r.ticker.C
	log.Printf("🚀 Room %s started (%d players)", r.cfg.GameID, len(r.sessions))

	r.broadcast(mustMarshal(r.gameStartMessage()))
	r.syncLobby()
}

func (r *Room) gameStartMessage() GameStartMessage {
	prices := make(map[string]float64, len(r.stocks))
	for ticker, stock := range r.stocks {
		prices[ticker] = stock.CurrentPrice
	}
	return GameStartMessage{Type: "game_start", Prices: prices, SeedHash: r.cfg.SeedHash}
}

// handleTick advances one volley: every stock gets a new price from the
// ledger it accumulated, the ledger resets, and the tick is broadcast.
// Stocks are processed in fixed lexical order so a seeded room is fully
// reproducible.
func (r *Room) handleTick() {
	if r.status != StatusActive {
		return
	}

	updates := make([]StockUpdate, 0, len(r.tickers))
	prices := make(map[string]float64, len(r.tickers))
	for _, ticker := range r.tickers {
		stock := r.stocks[ticker]
		led := r.ledger[ticker]

		// Mean-reversion reference: the historical series value for the
		// upcoming volley when one exists, else the stock's own last price.
		reference := stock.CurrentPrice
		if r.volley+1 < len(stock.Historical) {
			reference = stock.Historical[r.volley+1]
		}

		newPrice := game.NextPrice(r.rng, stock.CurrentPrice, reference, led.buyVolume, led.sellVolume)
		stock.PreviousTickPrice = stock.CurrentPrice
		stock.CurrentPrice = newPrice
		led.buyVolume = 0
		led.sellVolume = 0

		updates = append(updates, StockUpdate{Ticker: ticker, Price: game.RoundToDecimal(newPrice, 2)})
		prices[ticker] = newPrice
	}

	r.volley++
	r.broadcast(mustMarshal(TickMessage{Type: "tick", Tick: r.volley, Updates: updates}))

	if r.cfg.Store != nil {
		gameID, volley, store := r.cfg.GameID, r.volley, r.cfg.Store
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), config.GatewayWriteTimeout)
			defer cancel()
			if err := store.RecordPriceTicks(ctx, gameID, volley, prices); err != nil {
				log.Printf("⚠️  Failed to record price ticks for game %s: %v", gameID, err)
			}
		}()
	}
	r.syncLobby()

	if r.volley >= r.cfg.MaxVolleys {
		r.complete()
	}
}

// complete runs the terminal sequence: liquidate, rank, broadcast, persist,
// deregister, close. Idempotent: a force-stop racing natural completion
// runs it once.
func (r *Room) complete() {
	if r.status == StatusCompleted {
		return
	}

	// Liquidate every session's holdings at current prices.
	type result struct {
		session        *PlayerSession
		cashRemaining  float64
		portfolioValue float64
	}
	results := make([]result, 0, len(r.sessions))
	for _, s := range r.sessions {
		res := result{session: s, cashRemaining: s.Cash}
		for _, ticker := range r.tickers {
			volume := s.Holdings[ticker]
			if volume <= 0 {
				continue
			}
			proceeds := r.stocks[ticker].CurrentPrice * float64(volume)
			res.portfolioValue += proceeds
			s.Cash += proceeds
			s.Holdings[ticker] = 0
			s.trySend(mustMarshal(ForceSellMessage{
				Type:     "force_sell",
				Ticker:   ticker,
				Volume:   volume,
				Proceeds: proceeds,
			}))
		}
		results = append(results, res)
	}

	// Rank by total value descending; ties broken by join order so the
	// ranking is deterministic regardless of map iteration.
	sort.Slice(results, func(i, j int) bool {
		ti := results[i].cashRemaining + results[i].portfolioValue
		tj := results[j].cashRemaining + results[j].portfolioValue
		if ti != tj {
			return ti > tj
		}
		return results[i].session.JoinOrder < results[j].session.JoinOrder
	})

	standings := make([]Standing, 0, len(results))
	records := make([]db.StandingRecord, 0, len(results))
	winnerID := ""
	for i, res := range results {
		total := res.cashRemaining + res.portfolioValue
		standings = append(standings, Standing{
			Player:         res.session.Name,
			Rank:           i + 1,
			CashRemaining:  game.RoundToDecimal(res.cashRemaining, 2),
			PortfolioValue: game.RoundToDecimal(res.portfolioValue, 2),
			TotalValue:     game.RoundToDecimal(total, 2),
		})
		records = append(records, db.StandingRecord{
			PlayerID:       res.session.ID,
			DisplayName:    res.session.Name,
			Rank:           i + 1,
			CashRemaining:  res.cashRemaining,
			PortfolioValue: res.portfolioValue,
			TotalValue:     total,
		})
		if i == 0 {
			winnerID = res.session.ID
		}
	}

	r.broadcast(mustMarshal(GameEndMessage{Type: "game_end", Standings: standings}))
	log.Printf("🏁 Room %s completed at volley %d (%d players)", r.cfg.GameID, r.volley, len(results))

	if r.cfg.Store != nil {
		gameID, store := r.cfg.GameID, r.cfg.Store
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), config.GatewayWriteTimeout)
			defer cancel()
			if err := store.RecordGameCompletion(ctx, gameID, winnerID, records); err != nil {
				log.Printf("⚠️  Failed to record completion of game %s: %v", gameID, err)
			}
			if err := store.RemoveLiveRoom(ctx, gameID); err != nil {
				log.Printf("⚠️  Failed to remove lobby entry for game %s: %v", gameID, err)
			}
		}()
	}

	// Deregister before closing connections: no new connection can resolve
	// a room that is tearing down.
	if r.cfg.OnComplete != nil {
		r.cfg.OnComplete(r.cfg.GameID)
	}

	for _, s := range r.sessions {
		s.detach(config.CloseGameFinished, "game finished")
	}

	if r.ticker != nil {
		r.ticker.Stop()
		r.tickC = nil
	}

	r.status = StatusCompleted
	close(r.done)
}

func (r *Room) snapshot() *RoomSnapshot {
	snap := &RoomSnapshot{
		GameID:     r.cfg.GameID,
		Status:     r.status,
		Volley:     r.volley,
		MaxVolleys: r.cfg.MaxVolleys,
		SeedHash:   r.cfg.SeedHash,
	}
	for _, ticker := range r.tickers {
		snap.Stocks = append(snap.Stocks, StockUpdate{
			Ticker: ticker,
			Price:  game.RoundToDecimal(r.stocks[ticker].CurrentPrice, 2),
		})
	}
	for _, s := range r.sessions {
		snap.Players = append(snap.Players, PlayerInfo{ID: s.ID, Name: s.Name, Connected: s.connected()})
	}
	sort.Slice(snap.Players, func(i, j int) bool { return snap.Players[i].ID < snap.Players[j].ID })
	return snap
}

// broadcast queues data for every connected session, never blocking.
func (r *Room) broadcast(data []byte) {
	for _, s := range r.sessions {
		s.trySend(data)
	}
}

// syncLobby mirrors the room's lobby-visible state into the cache.
func (r *Room) syncLobby() {
	if r.cfg.Store == nil {
		return
	}
	connected := 0
	for _, s := range r.sessions {
		if s.connected() {
			connected++
		}
	}
	info := &db.LiveRoomInfo{
		GameID:     r.cfg.GameID,
		Status:     string(r.status),
		Players:    connected,
		Volley:     r.volley,
		MaxVolleys: r.cfg.MaxVolleys,
		CreatedAt:  r.createdAt,
	}
	store := r.cfg.Store
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), config.GatewayWriteTimeout)
		defer cancel()
		if err := store.UpsertLiveRoom(ctx, info); err != nil {
			log.Printf("⚠️  Failed to sync lobby entry for game %s: %v", info.GameID, err)
		}
	}()
}

func closeConn(conn Conn, code int, reason string) {
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	conn.Close()
}
