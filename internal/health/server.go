package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"liquiflow/internal/channel"
	"liquiflow/logger"
)

// Server hosts the Gin-powered health and status endpoints. It exposes a
// liveness probe plus a status snapshot of the pipeline counters and queue
// depths, so operators can watch the bot without attaching to its logs.
type Server struct {
	port       int
	channels   *channel.Channels
	log        *logger.Log
	httpServer *http.Server
	startedAt  time.Time
}

// NewServer constructs a health server. A port of zero disables it and the
// returned server will be nil.
func NewServer(port int, channels *channel.Channels, log *logger.Log) *Server {
	if port <= 0 {
		return nil
	}
	return &Server{
		port:     port,
		channels: channels,
		log:      log,
	}
}

// Run starts the health HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.startedAt = time.Now()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.buildRouter(),
	}

	s.log.WithComponent("health").WithField("port", s.port).Info("health server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/status", func(c *gin.Context) {
		events, actions := s.channels.QueueDepths()
		counters := logger.Counters()
		c.JSON(http.StatusOK, gin.H{
			"uptime_seconds": int64(time.Since(s.startedAt) / time.Second),
			"queues": gin.H{
				"events":  events,
				"actions": actions,
			},
			"counters": counters,
		})
	})

	return router
}
