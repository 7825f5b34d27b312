package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/marketplace-dispatch/internal/directory"
	"github.com/example/marketplace-dispatch/internal/models"
	"github.com/example/marketplace-dispatch/internal/observability"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const (
	roleProvider = "provider"
	roleUser     = "user"

	maxMessageSize = 8 << 10
)

// handleWS owns one real-time channel: it registers the entity in the
// directory, pumps inbound events until the connection dies, and always
// deregisters on the way out so dead channels do not linger.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	role := vars["role"]
	id := directory.CanonicalID(vars["id"])
	if id == "" || (role != roleProvider && role != roleUser) {
		http.Error(w, "unknown role", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	sess := s.Directory.Register(id, conn)
	observability.SessionsConnected.Set(float64(s.Directory.Len()))
	s.logger.Info("channel connected", "id", id, "role", role)

	defer func() {
		s.Directory.Remove(id, sess)
		observability.SessionsConnected.Set(float64(s.Directory.Len()))
		_ = conn.Close()
		s.logger.Info("channel disconnected", "id", id, "role", role)
	}()

	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("channel read error", "id", id, "error", err)
			}
			return
		}
		s.handleChannelEvent(sess, role, id, env)
	}
}

func (s *Server) handleChannelEvent(sess *directory.Session, role, id string, env models.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch env.Event {
	case models.EventPing:
		_ = sess.Send(models.EventPong, nil)

	case models.EventRequestAccept:
		if role != roleProvider {
			_ = sess.Send(models.EventError, map[string]string{"error": "only providers accept requests"})
			return
		}
		var ev models.AcceptEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil || ev.RequestID == "" {
			_ = sess.Send(models.EventError, map[string]string{"error": "request_id is required"})
			return
		}
		// The session identity is authoritative; the payload may omit it.
		if ev.ProviderID == "" {
			ev.ProviderID = id
		}
		res, err := s.Arbiter.Accept(ctx, ev.RequestID, ev.ProviderID)
		if err != nil {
			s.logger.Error("accept failed", "request_id", ev.RequestID, "provider_id", ev.ProviderID, "error", err)
			_ = sess.Send(models.EventError, map[string]string{"error": "internal error", "request_id": ev.RequestID})
			return
		}
		_ = sess.Send(models.EventRequestAccept, map[string]string{"request_id": ev.RequestID, "result": string(res)})

	case models.EventLocationUpdate:
		if role != roleProvider {
			return
		}
		var ev models.LocationEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			_ = sess.Send(models.EventError, map[string]string{"error": "bad location payload"})
			return
		}
		if err := s.Registry.UpdateLocation(ctx, id, ev.Loc); err != nil {
			s.logger.Warn("ws location update failed", "provider_id", id, "error", err)
		}

	default:
		_ = sess.Send(models.EventError, map[string]string{"error": "unknown event: " + env.Event})
	}
}
