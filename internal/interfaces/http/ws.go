package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	// Must fire before the pong deadline expires.
	wsPingPeriod = 54 * time.Second
)

type wsFrame struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// handleMarketWS upgrades the connection and streams market summary
// snapshots on a fixed period until the client goes away.
func (s *Server) handleMarketWS(w http.ResponseWriter, r *http.Request) {
	if s.market == nil {
		writeError(w, r, http.StatusServiceUnavailable, codeServiceUnhealthy, "market stream unavailable")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	if s.metrics != nil {
		s.metrics.WSConnected()
		defer s.metrics.WSDisconnected()
	}
	log.Info().Str("remote", r.RemoteAddr).Msg("Market stream client connected")
	defer log.Info().Str("remote", r.RemoteAddr).Msg("Market stream client disconnected")

	s.streamMarket(r.Context(), conn)
}

func (s *Server) streamMarket(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	period := s.streamPeriod
	if period <= 0 {
		period = 15 * time.Second
	}

	// Reader loop: consumes control frames and detects the client going
	// away. Clients never send data frames on this stream.
	done := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if !s.sendMarketSnapshot(ctx, conn) {
		return
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	pinger := time.NewTicker(wsPingPeriod)
	defer pinger.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-pinger.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ticker.C:
			if !s.sendMarketSnapshot(ctx, conn) {
				return
			}
		}
	}
}

// sendMarketSnapshot writes one summary frame, or an error frame when the
// upstream fetch fails. Returns false when the connection is gone.
func (s *Server) sendMarketSnapshot(ctx context.Context, conn *websocket.Conn) bool {
	fetchCtx, cancel := context.WithTimeout(ctx, marketTimeout)
	summary, err := s.market.Summary(fetchCtx)
	cancel()

	frame := wsFrame{Type: "market_summary", Timestamp: time.Now().UTC()}
	if err != nil {
		frame.Type = "error"
		frame.Error = "market data unavailable"
		log.Warn().Err(err).Msg("Market stream snapshot failed")
	} else {
		frame.Data = summary
	}

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(frame) == nil
}
