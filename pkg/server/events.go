package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/logging"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/metrics"
)

// Event is one message on the /ws/events stream.
type Event struct {
	Type string                 `json:"type"`
	Data metrics.RequestMetrics `json:"data"`
}

// handleEvents streams every dispatch and rejection record to a websocket client until
// the client disconnects. A slow client loses events rather than slowing
// the gateway.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		return
	}
	logger := logging.FromContext(r.Context(), s.logger)
	logger.Debug("event stream opened", zap.String("remote_addr", r.RemoteAddr))

	sub := s.manager.Collector().SubscribeFunc(func(m metrics.RequestMetrics) {
		typ := "dispatch"
		switch {
		case m.Attempt == 0:
			typ = "rejected"
		case m.Failover():
			typ = "failover"
		}
		_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		if err := conn.WriteJSON(Event{Type: typ, Data: m}); err != nil {
			logger.Debug("event write failed", zap.Error(err))
		}
	})

	// Reads only detect the close; clients send nothing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	conn.Close()
	sub.Close()
	logger.Debug("event stream closed", zap.String("remote_addr", r.RemoteAddr))
}
