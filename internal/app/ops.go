package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/widget"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Session         string    `json:"session"`
	Status          string    `json:"status"`
	Cursor          time.Time `json:"cursor"`
	PollInterval    string    `json:"pollInterval"`
	Conversations   int       `json:"conversations"`
	Unread          int       `json:"unread"`
	UploadsInFlight int       `json:"uploadsInFlight"`
}

// OpsServer serves health, metrics and status over HTTP. It is disabled when
// no listen address is configured.
type OpsServer struct {
	addr     string
	session  string
	widget   *widget.Widget
	machine  *status.Machine
	logger   *zap.Logger
	srv      *http.Server
	listener net.Listener
}

// NewOpsServer creates the ops server for the configured address.
func NewOpsServer(p Params, cfg *config.Config, w *widget.Widget, machine *status.Machine, logger *zap.Logger) *OpsServer {
	return &OpsServer{
		addr:    cfg.Ops.Listen,
		session: p.SessionName,
		widget:  w,
		machine: machine,
		logger:  logger.Named("ops"),
	}
}

// Router returns the gin engine serving the ops endpoints.
func (s *OpsServer) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), metrics.HTTPMetricsMiddleware())
	r.GET("/healthz", s.health)
	r.GET("/status", s.status)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// Start listens and serves in the background.
func (s *OpsServer) Start() error {
	if s.addr == "" {
		s.logger.Info("ops server disabled")
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen ops: %w", err)
	}
	s.listener = ln
	s.srv = &http.Server{Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}
	s.logger.Info("ops server starting", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ops server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" when not serving.
func (s *OpsServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *OpsServer) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	s.logger.Info("ops server stopping")
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("ops server shutdown", zap.Error(err))
	}
}

func (s *OpsServer) health(c *gin.Context) {
	st := s.machine.Current()
	code := http.StatusOK
	if st == status.Error || st == status.Stopped {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": string(st)})
}

func (s *OpsServer) status(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Session:         s.session,
		Status:          string(s.machine.Current()),
		Cursor:          s.widget.Coordinator.Cursor(),
		PollInterval:    s.widget.Coordinator.Interval().String(),
		Conversations:   len(s.widget.State.Conversations()),
		Unread:          s.widget.UnreadCount(),
		UploadsInFlight: s.widget.State.UploadsInFlight(),
	})
}
