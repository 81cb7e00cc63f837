// Package api serves the operations HTTP endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/events"
	"dex-copy-engine/internal/observability"
	"dex-copy-engine/internal/storage"
)

const (
	requestTimeout    = 10 * time.Second
	defaultRateLimit  = 20
	defaultRateBurst  = 40
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// MonitorLister reports the signals under entry monitoring.
// scheduler.Scheduler implements it.
type MonitorLister interface {
	Active() []string
}

// Options for creating a Server.
type Options struct {
	// Required
	Strategies storage.StrategyStore
	Monitors   MonitorLister

	// Optional
	Executions storage.ExecutionStore
	Decisions  storage.DecisionLogStore
	RateLimit  float64 // requests per second across all clients
	Logger     *logrus.Entry
}

// Server is the ops API.
type Server struct {
	strategies storage.StrategyStore
	monitors   MonitorLister
	executions storage.ExecutionStore
	decisions  storage.DecisionLogStore
	started    time.Time
	log        *logrus.Entry

	router *gin.Engine
}

// New builds the router.
func New(opts Options) (*Server, error) {
	if opts.Strategies == nil || opts.Monitors == nil {
		return nil, errors.New("api: strategies and monitors are required")
	}
	s := &Server{
		strategies: opts.Strategies,
		monitors:   opts.Monitors,
		executions: opts.Executions,
		decisions:  opts.Decisions,
		started:    time.Now(),
		log:        opts.Logger,
	}
	if s.log == nil {
		s.log = logrus.WithField("component", "api")
	}

	limit := opts.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), rateLimiter(rate.NewLimiter(rate.Limit(limit), defaultRateBurst)))

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(observability.Handler()))
	r.GET("/monitors", s.listMonitors)
	r.POST("/strategies/:id/resume", s.resumeStrategy)

	sig := r.Group("/signals/:id")
	{
		sig.GET("/executions", s.listExecutions)
		sig.GET("/decisions", s.listDecisions)
	}

	s.router = r
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("ops api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("ops api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops api shutdown: %w", err)
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"uptime":   time.Since(s.started).Round(time.Second).String(),
		"monitors": len(s.monitors.Active()),
	})
}

func (s *Server) listMonitors(c *gin.Context) {
	active := s.monitors.Active()
	if active == nil {
		active = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"signals": active, "count": len(active)})
}

func (s *Server) resumeStrategy(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	err := s.strategies.ClearPause(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return
	case err != nil:
		s.log.WithError(err).WithField("strategy_id", id).Error("resume strategy failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.log.WithField("strategy_id", id).Info("circuit breaker cleared manually")
	c.JSON(http.StatusOK, gin.H{"strategy_id": id, "paused": false})
}

func (s *Server) listExecutions(c *gin.Context) {
	if s.executions == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "execution store not configured"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	list, err := s.executions.GetBySignal(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]events.ExecutionEvent, 0, len(list))
	for _, e := range list {
		out = append(out, events.NewExecutionEvent(e))
	}
	c.JSON(http.StatusOK, gin.H{"executions": out})
}

type decisionView struct {
	StrategyID string    `json:"strategy_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Stage      string    `json:"stage"`
	Passed     bool      `json:"passed"`
	Level      string    `json:"level,omitempty"`
	Code       string    `json:"code,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func newDecisionView(d *domain.Decision) decisionView {
	return decisionView{
		StrategyID: d.StrategyID,
		UserID:     d.UserID,
		Stage:      d.Stage,
		Passed:     d.Passed,
		Level:      d.Level,
		Code:       d.Code,
		Reason:     d.Reason,
		CreatedAt:  d.CreatedAt.UTC(),
	}
}

func (s *Server) listDecisions(c *gin.Context) {
	if s.decisions == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "decision log not configured"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	list, err := s.decisions.GetBySignal(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]decisionView, 0, len(list))
	for _, d := range list {
		out = append(out, newDecisionView(d))
	}
	c.JSON(http.StatusOK, gin.H{"decisions": out})
}
