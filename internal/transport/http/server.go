// Package http exposes the engine's read surface and trade submission over a
// small JSON API. Reads come off the lock-free snapshot; writes go through the
// coordinator and block until the ledger round-trip settles.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"propeval/internal/engine"
	"propeval/internal/gateway/ledger"
	"propeval/internal/logger"
)

type Server struct {
	addr   string
	eng    *engine.Engine
	router *gin.Engine
}

func NewServer(addr string, eng *engine.Engine) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{addr: addr, eng: eng, router: router}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	api := s.router.Group("/api")
	api.GET("/account", s.handleAccount)
	api.GET("/positions", s.handlePositions)
	api.GET("/valuation", s.handleValuation)
	api.GET("/warnings", s.handleWarnings)
	api.GET("/trades", s.handleTrades)
	api.POST("/trades", s.handleSubmit)
	api.POST("/positions/:symbol/close", s.handleClose)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleAccount(c *gin.Context) {
	snap := s.eng.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"account":        snap.Account,
		"trading_locked": snap.TradingLocked(),
		"assessment":     snap.Assessment,
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	snap := s.eng.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"positions":   snap.Positions,
		"pending":     snap.Pending,
		"provisional": snap.Provisional,
	})
}

func (s *Server) handleValuation(c *gin.Context) {
	snap := s.eng.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"valuation":  snap.Valuation,
		"quotes":     snap.Quotes,
		"assessment": snap.Assessment,
	})
}

func (s *Server) handleWarnings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"warnings": s.eng.Snapshot().Warnings})
}

func (s *Server) handleTrades(c *gin.Context) {
	snap := s.eng.Snapshot()
	c.JSON(http.StatusOK, gin.H{"trades": snap.Trades, "tags": snap.Tags})
}

func (s *Server) handleSubmit(c *gin.Context) {
	var intent engine.Intent
	if err := c.ShouldBindJSON(&intent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	trade, err := s.eng.Submit(c.Request.Context(), intent)
	if err != nil {
		c.JSON(submitStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"trade": trade, "account": s.eng.Snapshot().Account})
}

func (s *Server) handleClose(c *gin.Context) {
	trade, err := s.eng.ClosePosition(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		c.JSON(submitStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"trade": trade, "account": s.eng.Snapshot().Account})
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrTradingLocked):
		return http.StatusLocked
	case errors.Is(err, engine.ErrInvalidIntent):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNoPrice):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNoPosition):
		return http.StatusNotFound
	case ledger.IsRuleViolation(err):
		return http.StatusUnprocessableEntity
	case ledger.IsTransient(err):
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("http: %s %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("http: listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
