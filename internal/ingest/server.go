package ingest

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/m3rciful/formbot/core/logger"
)

// FormSyncer syncs one form.
type FormSyncer interface {
	Sync(ctx context.Context, formID string) (int, error)
}

// pushEnvelope is the body Pub/Sub push subscriptions POST.
type pushEnvelope struct {
	Message struct {
		Attributes  map[string]string `json:"attributes"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// Server receives form watch notifications and exposes health and metrics.
type Server struct {
	engine  *gin.Engine
	syncer  FormSyncer
	token   string
	metrics *Metrics
}

// NewServer builds the HTTP surface. An empty token accepts every push.
func NewServer(syncer FormSyncer, token string, metrics *Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:  gin.New(),
		syncer:  syncer,
		token:   token,
		metrics: metrics,
	}
	s.engine.Use(gin.Recovery(), s.requestLog)
	s.engine.POST("/forms/events", s.handlePush)
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return s
}

// Handler returns the gin engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "ingest", "ingest.http.listen", slog.String("listen", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLog(c *gin.Context) {
	rid := uuid.NewString()
	ctx := logger.WithRID(c.Request.Context(), rid)
	c.Request = c.Request.WithContext(ctx)
	start := time.Now()
	c.Next()
	if c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics" {
		return
	}
	logger.Debug(ctx, "ingest", "ingest.http.request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", c.Writer.Status()),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
}

// handlePush acknowledges every well-formed or unusable notification with 204 and
// answers 500 when the sync fails so Pub/Sub redelivers.
func (s *Server) handlePush(c *gin.Context) {
	ctx := c.Request.Context()
	if s.token != "" && subtle.ConstantTimeCompare([]byte(c.Query("token")), []byte(s.token)) != 1 {
		s.metrics.push("unauthorized")
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	var env pushEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		logger.Warn(ctx, "ingest", "ingest.push.malformed", slog.String("err", err.Error()))
		s.metrics.push("malformed")
		c.Status(http.StatusNoContent)
		return
	}
	formID := strings.TrimSpace(env.Message.Attributes["formId"])
	eventType := env.Message.Attributes["eventType"]
	if formID == "" || (eventType != "" && eventType != eventResponses) {
		logger.Info(ctx, "ingest", "ingest.push.ignored",
			slog.String("form_id", formID),
			slog.String("action", eventType),
		)
		s.metrics.push("ignored")
		c.Status(http.StatusNoContent)
		return
	}

	if _, err := s.syncer.Sync(ctx, formID); err != nil {
		s.metrics.push("failed")
		c.Status(http.StatusInternalServerError)
		return
	}
	s.metrics.push("ok")
	c.Status(http.StatusNoContent)
}

const eventResponses = "RESPONSES"
