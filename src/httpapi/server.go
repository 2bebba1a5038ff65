// Package httpapi exposes the ingestion gateway over HTTP.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"invoice-ingest/src/contracts"
	"invoice-ingest/src/gateway"
	"invoice-ingest/src/logger"
	"invoice-ingest/src/validation"
)

// MaxBodyBytes caps the request body.
const MaxBodyBytes = 32 << 20

// Acceptor runs one ingestion.
type Acceptor interface {
	Accept(ctx context.Context, req gateway.Request) (gateway.Result, error)
}

// Server is the ingestion HTTP server
type Server struct {
	acceptor Acceptor
	router   *gin.Engine
	log      logger.Logger
	limiter  *clientLimiter
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithRateLimit throttles the ingestion routes to perMinute requests per
// client IP. Zero or less leaves them unthrottled.
func WithRateLimit(perMinute int) ServerOption {
	return func(s *Server) {
		if perMinute > 0 {
			s.limiter = newClientLimiter(perMinute)
		}
	}
}

// NewServer creates a new HTTP server
func NewServer(acceptor Acceptor, log logger.Logger, opts ...ServerOption) *Server {
	if log == nil {
		log = logger.NewSilentLogger()
	}

	router := gin.New()
	s := &Server{
		acceptor: acceptor,
		router:   router,
		log:      logger.WithComponent(log, "http"),
	}
	for _, opt := range opts {
		opt(s)
	}

	router.Use(gin.Recovery(), s.requestLog)

	router.GET("/healthz", s.handleHealth)

	v1 := router.Group("/v1")
	if s.limiter != nil {
		v1.Use(s.throttle)
	}
	v1.POST("/invoice-batches", s.handleAcceptBatch)

	return s
}

// Handler returns the router, for tests and custom servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http_server_listening", logger.F("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLog(c *gin.Context) {
	start := time.Now()
	c.Next()

	s.log.Debug("http_request",
		logger.F("method", c.Request.Method),
		logger.F("path", c.FullPath()),
		logger.F("status", c.Writer.Status()),
		logger.F("duration_ms", time.Since(start).Milliseconds()),
	)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleAcceptBatch(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large."})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read request body."})
		return
	}

	res, err := s.acceptor.Accept(c.Request.Context(), gateway.Request{
		Secret: c.GetHeader(validation.HeaderName),
		Body:   body,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := gin.H{
		"batch_id": res.BatchID.String(),
		"status":   res.Status,
	}
	if res.Message != "" {
		resp["message"] = res.Message
	}
	c.JSON(http.StatusAccepted, resp)
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, contracts.ErrAuthentication):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized."})

	case errors.Is(err, contracts.ErrValidation):
		resp := gin.H{"error": "The given data was invalid."}
		if verr, ok := validation.AsError(err); ok {
			resp["error"] = verr.Message
			if len(verr.Fields) > 0 {
				resp["errors"] = verr.Fields
			}
		}
		c.JSON(http.StatusUnprocessableEntity, resp)

	case errors.Is(err, contracts.ErrStaging), errors.Is(err, contracts.ErrEnqueue):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":      "Service temporarily unavailable.",
			"error_type": contracts.ErrorType(err),
		})

	case contracts.IsPublishFailure(err):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":      "Failed to publish invoice batch.",
			"error_type": contracts.ErrorType(err),
		})

	default:
		s.log.Error("http_request_failed", logger.F("error_message", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error."})
	}
}
