// Package server exposes the compiler over HTTP.
//
//	POST /v1/compile  {expression, dialect?, resourceType?} -> {id, sql, ctes}
//	POST /v1/explain  same body -> compile result plus CTE steps
//	POST /v1/run      {expression, resourceType?} -> {id, sql, rows}, only
//	                  when the server has an executor
//	GET  /v1/types    canonical type names and supported functions
//	GET  /healthz     liveness, plus executor reachability
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/roach88/fhirsql/internal/compiler"
	"github.com/roach88/fhirsql/internal/store"
)

// Options configures a Server.
type Options struct {
	Logger zerolog.Logger

	// Compiler holds the defaults for every compilation. Requests may
	// override the dialect and resource type.
	Compiler compiler.Options

	// Executor, when set, enables POST /v1/run. Statements are compiled
	// for ExecutorDialect.
	Executor        store.Executor
	ExecutorDialect string
}

// Server is the HTTP compile service.
type Server struct {
	echo   *echo.Echo
	logger zerolog.Logger
	opts   Options

	mu        sync.Mutex
	compilers map[compilerKey]*compiler.Compiler
}

type compilerKey struct {
	dialect      string
	resourceType string
}

// New builds the service and registers its routes.
func New(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		logger:    opts.Logger,
		opts:      opts,
		compilers: make(map[compilerKey]*compiler.Compiler),
	}

	e.Use(Recovery(s.logger))
	e.Use(RequestID())
	e.Use(Logger(s.logger))

	e.GET("/healthz", s.health)
	v1 := e.Group("/v1")
	v1.POST("/compile", s.compile)
	v1.POST("/explain", s.explain)
	v1.GET("/types", s.types)
	if opts.Executor != nil {
		v1.POST("/run", s.run)
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("starting server")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info().Msg("server stopped")
	return nil
}

// compiler returns a cached compiler for the dialect and resource type.
func (s *Server) compiler(dialectName, resourceType string) (*compiler.Compiler, error) {
	opts := s.opts.Compiler
	if dialectName == "" && opts.Dialect != nil {
		dialectName = opts.Dialect.Name()
	}
	if resourceType == "" {
		resourceType = opts.ResourceType
	}
	if resourceType == "" {
		resourceType = compiler.DefaultResourceType
	}
	key := compilerKey{dialect: dialectName, resourceType: resourceType}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.compilers[key]; ok {
		return c, nil
	}

	d, err := compiler.DialectByName(dialectName)
	if err != nil {
		return nil, err
	}
	opts.Dialect = d
	if opts.ResourceType != resourceType {
		// The configured table belongs to the configured resource type
		opts.Table = ""
	}
	opts.ResourceType = resourceType
	opts.Logger = &s.logger

	c, err := compiler.New(opts)
	if err != nil {
		return nil, err
	}
	s.compilers[key] = c
	return c, nil
}
