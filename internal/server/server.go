package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/SVG-campus/KRAKEN-VOLUME/internal/snapshot"
)

// SnapshotFunc yields the current projection; re-queryable at any time.
type SnapshotFunc func() snapshot.Snapshot

// Config tunes the snapshot API.
type Config struct {
	Listen       string
	PushInterval time.Duration
}

// Server exposes the snapshot projection over HTTP and pushes it on a fixed
// interval to websocket subscribers.
type Server struct {
	cfg      Config
	snapshot SnapshotFunc
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// New constructs a Server.
func New(cfg Config, fn SnapshotFunc, logger zerolog.Logger) *Server {
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = 2 * time.Second
	}
	return &Server{
		cfg:      cfg,
		snapshot: fn,
		logger:   logger.With().Str("component", "server").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/api/v1/snapshot", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.snapshot())
	})
	router.GET("/ws", s.handleWS)

	srv := &http.Server{Addr: s.cfg.Listen, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("listen", s.cfg.Listen).Msg("snapshot server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// drain client frames so close handshakes are noticed
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// initial frame, then one per push interval
	if err := conn.WriteJSON(s.snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(s.snapshot()); err != nil {
				return
			}
		}
	}
}
