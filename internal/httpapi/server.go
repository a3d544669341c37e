package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	logx "standupbot/pkg/logx"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	srv *http.Server
	log logx.Logger
}

func NewServer(addr string, readHeaderTimeout time.Duration, h http.Handler, log logx.Logger) *Server {
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 5 * time.Second
	}
	return &Server{
		srv: &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: readHeaderTimeout},
		log: log,
	}
}

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()
	s.log.Info("ops http listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("ops http shutdown error", logx.Err(err))
	}
	<-errCh
	return nil
}
