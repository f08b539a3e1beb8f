package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rafaelmv/wacrm/internal/config"
	"github.com/rafaelmv/wacrm/internal/gateway"
)

// Server runs the gateway's HTTP listener.
type Server struct {
	httpSrv *http.Server
	logger  *zap.Logger
}

// NewServer binds the gateway handler to the configured listen address.
func NewServer(gw *gateway.Server, cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		httpSrv: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           gw.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains connections and shuts the listener down.
func (s *Server) Stop(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("gateway shutdown", zap.Error(err))
	}
}
