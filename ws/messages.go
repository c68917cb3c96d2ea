package ws

import (
	"encoding/json"
	"fmt"
	"log"
)

/* =========================
   INBOUND MESSAGES
========================= */

// OrderAction is the closed set of trade actions a player can send.
type OrderAction string

const (
	ActionBuy  OrderAction = "buy"
	ActionSell OrderAction = "sell"
)

// InboundMessage is a player's order as it arrives over the wire.
type InboundMessage struct {
	Action OrderAction `json:"action"`
	Ticker string      `json:"ticker"`
	Volume int64       `json:"volume"`
}

// Validate rejects malformed orders before they reach the room loop.
func (m *InboundMessage) Validate() error {
	switch m.Action {
	case ActionBuy, ActionSell:
	default:
		return fmt.Errorf("unknown action %q", m.Action)
	}
	if m.Ticker == "" {
		return fmt.Errorf("missing ticker")
	}
	if m.Volume <= 0 {
		return fmt.Errorf("volume must be a positive integer, got %d", m.Volume)
	}
	return nil
}

/* =========================
   OUTBOUND MESSAGES
========================= */

// StockUpdate is one stock's price inside a tick broadcast.
type StockUpdate struct {
	Ticker string  `json:"ticker"`
	Price  float64 `json:"price"`
}

// GameStartMessage is broadcast on Waiting -> Active, and privately replayed
// to players joining an already-active room so they see current prices.
type GameStartMessage struct {
	Type     string             `json:"type"` // "game_start"
	Prices   map[string]float64 `json:"prices"`
	SeedHash string             `json:"seedHash"`
}

// TickMessage is the per-volley broadcast with every stock's new price.
type TickMessage struct {
	Type    string        `json:"type"` // "tick"
	Tick    int           `json:"tick"`
	Updates []StockUpdate `json:"updates"`
}

// TransactionMessage is the private confirmation sent to an order's initiator.
type TransactionMessage struct {
	Type         string  `json:"type"` // "transaction"
	Ticker       string  `json:"ticker"`
	Volume       int64   `json:"volume"`
	NetCashDelta float64 `json:"netCashDelta"`
	NewBalance   float64 `json:"newBalance"`
	NewHoldings  int64   `json:"newHoldings"`
}

// PlayerTransactionMessage is the redacted trade event broadcast to the other
// sessions: no balances, just who moved what.
type PlayerTransactionMessage struct {
	Type   string      `json:"type"` // "player_transaction"
	Player string      `json:"player"`
	Action OrderAction `json:"action"`
	Ticker string      `json:"ticker"`
	Volume int64       `json:"volume"`
}

// ForceSellMessage tells a player one of their holdings was liquidated at
// game end.
type ForceSellMessage struct {
	Type     string  `json:"type"` // "force_sell"
	Ticker   string  `json:"ticker"`
	Volume   int64   `json:"volume"`
	Proceeds float64 `json:"proceeds"`
}

// Standing is one row of the final ranking.
type Standing struct {
	Player         string  `json:"player"`
	Rank           int     `json:"rank"`
	CashRemaining  float64 `json:"cashRemaining"`
	PortfolioValue float64 `json:"portfolioValue"`
	TotalValue     float64 `json:"totalValue"`
}

// GameEndMessage is the terminal broadcast with final standings.
type GameEndMessage struct {
	Type      string     `json:"type"` // "game_end"
	Standings []Standing `json:"standings"`
}

// ErrorMessage reports a rejected order back to its sender.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Outbound messages are plain structs; a marshal failure here is a
		// programming defect, not a runtime case.
		log.Printf("❌ Failed to marshal outbound message %T: %v", v, err)
		return []byte(`{"type":"error","message":"internal error"}`)
	}
	return data
}
