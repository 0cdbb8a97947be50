package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/moverun/internal/stream"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || localOrigin(origin)
	},
}

// wantKinds parses repeated ?kind= parameters; none means everything
func wantKinds(r *http.Request) map[stream.Kind]bool {
	raw := r.URL.Query()["kind"]
	if len(raw) == 0 {
		return nil
	}
	out := make(map[stream.Kind]bool, len(raw))
	for _, k := range raw {
		out[stream.Kind(k)] = true
	}
	return out
}

// GET /v1/stream?since=<seq>&kind=movement
//
// Retained events after since are replayed first, then live events follow.
// A client that cannot keep up loses events; the gap shows in Seq.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			writeError(w, r, http.StatusBadRequest, "invalid_since", "since must be an event sequence number")
			return
		}
		since = n
	}
	kinds := wantKinds(r)

	// subscribe before replay so nothing published in between is missed
	sub := s.deps.Bus.Subscribe(wsBuffer)
	defer sub.Cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Str("request_id", requestID(r)).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := log.With().Str("request_id", requestID(r)).Str("remote", r.RemoteAddr).Logger()
	logger.Info().Uint64("since", since).Msg("Stream client connected")

	// reader: only control frames are expected; it ends on close
	done := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(ev stream.Event) bool {
		if kinds != nil && !kinds[ev.Kind] {
			return true
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(ev); err != nil {
			logger.Debug().Err(err).Msg("Stream write failed")
			return false
		}
		return true
	}

	last := since
	for _, ev := range s.deps.Bus.Since(since, 0) {
		if !send(ev) {
			return
		}
		last = ev.Seq
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			logger.Info().Uint64("dropped", sub.Dropped()).Msg("Stream client disconnected")
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
					time.Now().Add(wsWriteWait))
				return
			}
			// already replayed
			if ev.Seq <= last {
				continue
			}
			if !send(ev) {
				return
			}
			last = ev.Seq
		}
	}
}
