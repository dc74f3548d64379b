package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// httpServer 管理端口
// 端口在创建时绑定，运行期错误只记录日志，不影响 worker
type httpServer struct {
	srv    *http.Server
	ln     net.Listener
	logger *zap.Logger
}

func listenHTTP(port int, handler http.Handler, logger *zap.Logger) (*httpServer, error) {
	addr := fmt.Sprintf(":%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &httpServer{
		srv: &http.Server{
			Handler:      handler,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		ln:     ln,
		logger: logger,
	}, nil
}

// Addr 实际监听地址
func (s *httpServer) Addr() string {
	return s.ln.Addr().String()
}

// serve 阻塞直到 ctx 取消或服务异常退出
func (s *httpServer) serve(ctx context.Context) {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(s.ln) }()
	s.logger.Info("http server listening", zap.String("addr", s.Addr()))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped, workers keep running", zap.Error(err))
		}
		return
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown", zap.Error(err))
	}
	<-errCh
}
