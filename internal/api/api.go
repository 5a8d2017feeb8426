// Package api provides the HTTP status and control API.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/good-yellow-bee/firehunt/internal/manager"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8476"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}

// Server is the HTTP API server.
type Server struct {
	config  Config
	service *manager.Service
	server  *http.Server
}

// NewServer creates an API server over the hunting service.
func NewServer(config Config, service *manager.Service) *Server {
	config.SetDefaults()

	s := &Server{config: config, service: service}
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      s.setupRouter(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	log.Printf("api server listening on %s", s.config.Address)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("shutting down api server")
	return s.server.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.config.Address
}
