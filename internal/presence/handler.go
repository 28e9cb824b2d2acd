package presence

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"greenroom/internal/credential"
	"greenroom/pkg/interfaces"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is the deployment proxy's job.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// Handler tracks participant presence over a websocket: a successful upgrade
// records a join, the socket closing records the leave. The socket carries
// no media and no chat; it exists so presence intervals mirror real
// connectivity instead of trusting explicit leave calls.
type Handler struct {
	registry interfaces.SessionRegistry
	issuer   *credential.Issuer
	log      *logrus.Entry
}

// NewHandler creates a presence handler.
func NewHandler(registry interfaces.SessionRegistry, issuer *credential.Issuer, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{
		registry: registry,
		issuer:   issuer,
		log:      log,
	}
}

// HandleWebSocket validates the credential, upgrades the connection and
// pumps it until close. The credential is rejected at the boundary before
// any session mutation.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("credential")
	if token == "" {
		http.Error(w, ErrMissingCredential.Error(), http.StatusBadRequest)
		return
	}

	claims, err := h.issuer.Validate(token)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, credential.ErrCredentialMalformed) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	roomID := r.URL.Query().Get("room_id")
	if roomID != "" && roomID != claims.RoomID {
		http.Error(w, ErrRoomMismatch.Error(), http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	if err := h.registry.Join(claims.RoomID, claims.UserID, claims.Role); err != nil {
		h.log.WithError(err).WithField("room_id", claims.RoomID).Warn("join rejected")
		_ = conn.Close()
		return
	}

	go h.pump(conn, claims)
}

// pump keeps the socket alive with pings and records the leave when the read
// loop exits for any reason.
func (h *Handler) pump(conn *websocket.Conn, claims *credential.Claims) {
	defer func() {
		_ = conn.Close()
		if err := h.registry.Leave(claims.RoomID, claims.UserID); err != nil {
			h.log.WithError(err).WithField("room_id", claims.RoomID).Warn("leave failed")
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			// Inbound frames are drained; the channel is presence-only.
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
