package ingress

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Server is an HTTP listener bound at construction so bind failures surface
// at startup.
type Server struct {
	srv *http.Server
	ln  net.Listener
	log *logrus.Entry
}

// Listen binds addr and returns a Server ready to Serve h.
func Listen(addr string, h http.Handler, log *logrus.Entry) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Server{
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		ln:  ln,
		log: log,
	}, nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve accepts connections until Shutdown. Each request runs on its own
// goroutine. Returns nil after a clean shutdown.
func (s *Server) Serve() error {
	s.log.WithField("addr", s.Addr()).Info("listening")
	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting and waits for in-flight handlers until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	// a listener that never served is not tracked by http.Server
	_ = s.ln.Close()
	s.log.WithField("addr", s.Addr()).Info("listener stopped")
	return err
}
