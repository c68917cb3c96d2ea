package ws

import (
	"log"
	"time"

	"github.com/gorilla/websocket"

	"stockvolley/config"
)

// Conn is the slice of *websocket.Conn the room needs. Tests substitute a
// stub; production code passes the upgraded gorilla connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Identity is a verified player identity, produced by token verification
// before a connection ever reaches a room.
type Identity struct {
	ID   string
	Name string
}

// outFrame is one queued websocket frame. Close frames ride the same queue
// as text messages so they always land after everything sent before them.
type outFrame struct {
	messageType int
	data        []byte
}

// PlayerSession binds a player's economic state in one room to their live
// connection. The session (cash, holdings) outlives the connection: on
// disconnect only the transport is dropped, and a reconnect supersedes the
// old handle instead of duplicating the session.
//
// All fields are owned by the room goroutine. The write pump is the only
// thing that ever writes to or closes the connection, except for a forced
// detach, which hard-closes to unblock a stuck write.
type PlayerSession struct {
	ID        string
	Name      string
	Cash      float64
	Holdings  map[string]int64
	JoinOrder int

	conn Conn
	send chan outFrame
}

func newPlayerSession(identity Identity, startingCash float64, joinOrder int) *PlayerSession {
	return &PlayerSession{
		ID:        identity.ID,
		Name:      identity.Name,
		Cash:      startingCash,
		Holdings:  make(map[string]int64),
		JoinOrder: joinOrder,
	}
}

// attach binds a fresh connection and starts its write pump.
func (s *PlayerSession) attach(conn Conn) {
	s.conn = conn
	s.send = make(chan outFrame, config.SessionSendBuffer)
	go writePump(s.ID, conn, s.send)
}

// connected reports whether the session has a live transport.
func (s *PlayerSession) connected() bool {
	return s.conn != nil
}

// detach gracefully drops the transport: a close frame is queued behind any
// pending messages and the pump closes the connection once drained. Economic
// state is untouched. Safe to call when already detached.
func (s *PlayerSession) detach(code int, reason string) {
	if s.conn == nil {
		return
	}
	frame := outFrame{websocket.CloseMessage, websocket.FormatCloseMessage(code, reason)}
	select {
	case s.send <- frame:
	default:
		// Queue full; the hard close below is all the signal the peer gets.
	}
	close(s.send)
	s.conn = nil
	s.send = nil
}

// detachNow abandons the queue and hard-closes the connection, which also
// unblocks a write pump stuck on an unresponsive peer.
func (s *PlayerSession) detachNow() {
	if s.conn == nil {
		return
	}
	conn := s.conn
	s.conn = nil
	close(s.send)
	s.send = nil
	conn.Close()
}

// trySend queues a message for the session without ever blocking the room
// loop. A session whose buffer is full is a slow consumer and gets
// disconnected rather than allowed to stall every other player's tick.
func (s *PlayerSession) trySend(data []byte) {
	if s.conn == nil {
		return
	}
	select {
	case s.send <- outFrame{websocket.TextMessage, data}:
	default:
		log.Printf("⚠️  Player %s send buffer full, disconnecting slow consumer", s.ID)
		s.detachNow()
	}
}

// writePump drains the frame queue onto the websocket and closes the
// connection when the queue is closed or a write fails. Each write carries a
// deadline so a dead peer cannot pin the goroutine.
func writePump(playerID string, conn Conn, send <-chan outFrame) {
	defer conn.Close()
	for frame := range send {
		conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
		if err := conn.WriteMessage(frame.messageType, frame.data); err != nil {
			log.Printf("❌ Write error for player %s: %v", playerID, err)
			return
		}
	}
}
