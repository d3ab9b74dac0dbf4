package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tendant/simple-transcoder/internal/job"
	"github.com/tendant/simple-transcoder/pkg/schema"
)

// serveJobs upgrades the connection and runs one job per received message.
// The next message is not read until the current job's events are sent.
func (s *Server) serveJobs(kind job.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.track() {
			respondError(w, r, http.StatusServiceUnavailable, "Server shutting down")
			return
		}
		defer s.conns.Done()

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", "path", r.URL.Path, "err", err)
			return
		}
		defer conn.Close()

		logger := s.logger.With("path", r.URL.Path, "remote_addr", r.RemoteAddr)
		logger.Info("client connected")

		// Shutdown cancels the running job and unblocks a pending read.
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		stop := context.AfterFunc(s.root, func() {
			cancel()
			_ = conn.SetReadDeadline(time.Now())
		})
		defer stop()

		for {
			if s.root.Err() != nil {
				s.goingAway(conn, logger)
				return
			}
			_, data, err := conn.ReadMessage()
			if err != nil {
				switch {
				case s.root.Err() != nil:
					s.goingAway(conn, logger)
				case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
					logger.Warn("websocket read failed", "err", err)
				default:
					logger.Info("client disconnected")
				}
				return
			}

			var msg schema.JobRequest
			if err := json.Unmarshal(data, &msg); err != nil {
				logger.Warn("invalid job message", "err", err)
				if err := s.write(conn, schema.Failure("Invalid JSON message")); err != nil {
					return
				}
				continue
			}

			for ev := range s.cfg.Runner.Run(ctx, job.NewRequest(kind, msg)) {
				if err := s.write(conn, ev); err != nil {
					logger.Warn("websocket write failed", "err", err)
					return
				}
			}
		}
	}
}

func (s *Server) goingAway(conn *websocket.Conn, logger *slog.Logger) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	logger.Info("connection closed for shutdown")
}

func (s *Server) write(conn *websocket.Conn, ev schema.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}
