package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"strmdav/pkg/logger"
)

const shutdownGrace = 10 * time.Second

// Server is the WebDAV listener: a plain TCP listener with a fixed
// connection cap. Over-capacity connections queue in the accept backlog and
// are rejected promptly by the kernel once it fills.
type Server struct {
	addr     string
	maxConns int
	handler  http.Handler
}

// New creates a server for the given address and connection cap.
func New(addr string, maxConns int, handler http.Handler) *Server {
	return &Server{
		addr:     addr,
		maxConns: maxConns,
		handler:  handler,
	}
}

// ListenAndServe serves until the context is cancelled, then drains in-flight
// connections within the grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	limited := netutil.LimitListener(ln, s.maxConns)

	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("[Server] Shutdown: %v", err)
		}
	}()

	logger.Info("[Server] WebDAV listening on %s (max %d connections)", s.addr, s.maxConns)
	if err := httpServer.Serve(limited); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
