package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/borrowbox/borrowbox/internal/broker"
	"github.com/borrowbox/borrowbox/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the CORS layer for REST; websocket handshakes
	// carry the access token, which is the actual authentication.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is the envelope for both directions of the realtime protocol
type wsFrame struct {
	Type    string                  `json:"type"`
	RoomID  string                  `json:"room_id,omitempty"`
	Message *models.ChatMessageView `json:"message,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

// handleWebSocket upgrades the connection and runs the realtime session.
// Clients join rooms keyed by request id and announce messages they have
// already persisted over REST; the broker fans the announcement out to the
// other participants.
func (s *APIServer) handleWebSocket(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Authentication required"})
		return
	}

	claims, err := s.jwtAuthenticator.ValidateAccessToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid token"})
		return
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	session := &wsSession{
		server: s,
		userID: userID,
		ws:     ws,
		conn:   s.broker.NewConn(),
		out:    make(chan wsFrame, 16),
	}

	go session.writePump()
	session.readPump(c)
}

// wsSession is one authenticated realtime connection
type wsSession struct {
	server *APIServer
	userID uuid.UUID
	ws     *websocket.Conn
	conn   *broker.Conn
	out    chan wsFrame
}

// readPump processes client frames until the connection drops
func (s *wsSession) readPump(c *gin.Context) {
	defer func() {
		s.conn.Close()
		s.ws.Close()
	}()

	s.ws.SetReadLimit(maxFrameSize)
	s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		s.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame wsFrame
		if err := s.ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("user_id", s.userID.String()).Msg("WebSocket closed unexpectedly")
			}
			return
		}

		switch frame.Type {
		case "join_room":
			s.handleJoin(c, frame.RoomID)
		case "leave_room":
			s.conn.Leave(frame.RoomID)
		case "send_message":
			s.handleSend(frame)
		default:
			s.reply(wsFrame{Type: "error", Error: "Unknown frame type"})
		}
	}
}

// handleJoin authorizes the caller against the room's participant set
// before subscribing. Non-participants never receive the room's events.
func (s *wsSession) handleJoin(c *gin.Context, roomID string) {
	requestID, err := uuid.Parse(roomID)
	if err != nil {
		s.reply(wsFrame{Type: "error", RoomID: roomID, Error: "Invalid room id"})
		return
	}

	m, err := s.server.chatService.GetMembership(c.Request.Context(), requestID)
	if err != nil {
		s.reply(wsFrame{Type: "error", RoomID: roomID, Error: "Room not found"})
		return
	}
	if !m.Participant(s.userID) {
		s.reply(wsFrame{Type: "error", RoomID: roomID, Error: "Not a participant of this room"})
		return
	}

	s.conn.Join(roomID)
	s.reply(wsFrame{Type: "joined", RoomID: roomID})
}

// handleSend announces an already-persisted message to the room. The store
// write happened over REST; this frame only triggers fan-out, so a forged
// or unpersisted payload never becomes part of history. Announcing requires
// an active subscription to the room, and join_room grants one only to the
// request's participants, so non-participants cannot fan frames into a room.
func (s *wsSession) handleSend(frame wsFrame) {
	if frame.Message == nil {
		s.reply(wsFrame{Type: "error", RoomID: frame.RoomID, Error: "Missing message"})
		return
	}
	if !s.conn.Subscribed(frame.RoomID) {
		s.reply(wsFrame{Type: "error", RoomID: frame.RoomID, Error: "Join the room before announcing messages"})
		return
	}
	if frame.Message.SenderID != s.userID {
		s.reply(wsFrame{Type: "error", RoomID: frame.RoomID, Error: "Cannot announce another user's message"})
		return
	}
	if frame.RoomID != frame.Message.RequestID.String() {
		s.reply(wsFrame{Type: "error", RoomID: frame.RoomID, Error: "Message does not belong to this room"})
		return
	}

	s.server.broker.Publish(frame.RoomID, *frame.Message)
}

// reply queues a control frame, dropping it if the client cannot keep up
func (s *wsSession) reply(frame wsFrame) {
	select {
	case s.out <- frame:
	default:
	}
}

// writePump serializes all writes to the websocket: broker events, control
// replies, and pings
func (s *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.ws.Close()
	}()

	for {
		select {
		case event, ok := <-s.conn.Events():
			if !ok {
				s.ws.SetWriteDeadline(time.Now().Add(writeWait))
				s.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.writeFrame(wsFrame{
				Type:    "receive_message",
				RoomID:  event.RoomID,
				Message: &event.Message,
			}); err != nil {
				return
			}
		case frame := <-s.out:
			if err := s.writeFrame(frame); err != nil {
				return
			}
		case <-ticker.C:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *wsSession) writeFrame(frame wsFrame) error {
	s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return s.ws.WriteMessage(websocket.TextMessage, payload)
}
