package ws

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"stockvolley/auth"
	"stockvolley/config"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced at the CORS layer
	},
}

// Server is the websocket front door: it verifies the player's token,
// resolves the target room, and hands the connection over.
type Server struct {
	verifier *auth.Verifier
	registry *Registry
}

func NewServer(verifier *auth.Verifier, registry *Registry) *Server {
	return &Server{verifier: verifier, registry: registry}
}

// HandleGameWS upgrades /ws/{gameId} connections. Token and room problems
// are reported with application close codes after the upgrade, so browser
// clients (which cannot read handshake error bodies) still learn why.
func (s *Server) HandleGameWS(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["gameId"]
	tokenString, subprotocol := extractToken(r)

	var responseHeader http.Header
	if subprotocol != "" {
		// Browsers abort the handshake unless the chosen subprotocol is
		// echoed back.
		responseHeader = http.Header{"Sec-WebSocket-Protocol": []string{subprotocol}}
	}

	conn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		log.Printf("❌ Websocket upgrade failed for game %s: %v", gameID, err)
		return
	}

	claims, err := s.verifier.ValidateToken(tokenString)
	if err != nil {
		log.Printf("⚠️  Rejected connection to game %s: %v", gameID, err)
		closeConn(conn, config.CloseInvalidToken, "invalid token")
		return
	}

	room, err := s.registry.ResolveOrLoad(r.Context(), gameID)
	if err != nil {
		log.Printf("⚠️  Player %s requested unknown game %s", claims.ID, gameID)
		closeConn(conn, config.CloseRoomNotFound, "room not found")
		return
	}

	identity := Identity{ID: claims.ID, Name: claims.Name}
	if identity.Name == "" {
		identity.Name = identity.ID
	}
	room.Admit(identity, conn)

	// The connection is hijacked; this handler goroutine becomes the read
	// loop until the client goes away.
	s.readLoop(room, conn, identity)
}

// readLoop pumps inbound frames into the room until the connection dies.
func (s *Server) readLoop(room *Room, conn *websocket.Conn, identity Identity) {
	defer room.Remove(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("🔌 Read error for player %s: %v", identity.ID, err)
			}
			return
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			room.Reject(conn, "malformed message: expected JSON order")
			continue
		}
		if err := msg.Validate(); err != nil {
			room.Reject(conn, err.Error())
			continue
		}
		room.HandleOrder(conn, msg)
	}
}

// extractToken pulls the identity token from the query string or, for
// browser clients that cannot set query-visible credentials, from the
// websocket subprotocol list. The second return is the subprotocol to echo,
// empty when the token came from the query.
func extractToken(r *http.Request) (string, string) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, ""
	}
	if protocols := websocket.Subprotocols(r); len(protocols) > 0 {
		return protocols[0], protocols[0]
	}
	return "", ""
}
