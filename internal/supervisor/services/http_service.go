// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPServer is the part of *http.Server the service drives.
type HTTPServer interface {
	Serve(l net.Listener) error
	Shutdown(ctx context.Context) error
}

type listenFunc func(ctx context.Context, addr string) (net.Listener, error)

func listenTCP(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr)
}

// HTTPServerService binds the API address, serves until its context ends,
// then shuts the server down with its own deadline.
type HTTPServerService struct {
	server          HTTPServer
	addr            string
	shutdownTimeout time.Duration
	listen          listenFunc
	logger          zerolog.Logger
}

// NewHTTPServerService wraps server. A non-positive shutdownTimeout becomes
// 10s.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewHTTPServerService(server HTTPServer, addr string, shutdownTimeout time.Duration, logger zerolog.Logger) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{
		server:          server,
		addr:            addr,
		shutdownTimeout: shutdownTimeout,
		listen:          listenTCP,
		logger:          logger.With().Str("service", "api").Logger(),
	}
}

// Serve implements suture.Service. Binding happens before the listening log
// line, so a busy port fails the service instead of a background goroutine.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	ln, err := h.listen(ctx, h.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.addr, err)
	}
	h.logger.Info().Str("addr", ln.Addr().String()).Msg("api server listening")

	done := make(chan error, 1)
	go func() { done <- h.server.Serve(ln) }()

	select {
	case err := <-done:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.shutdownTimeout)
	defer cancel()
	if err := h.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	<-done
	h.logger.Info().Msg("api server stopped")
	return ctx.Err()
}

func (h *HTTPServerService) String() string {
	return "api-server"
}
