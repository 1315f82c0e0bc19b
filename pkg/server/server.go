// Package server exposes DID resolution and HCS-1 file retrieval over HTTP.
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/relves/hcsdid/pkg/did"
	"github.com/relves/hcsdid/pkg/file"
)

const defaultMaxBatch = 100

// Server routes HTTP requests to the resolver and file service.
type Server struct {
	resolver *did.Resolver
	files    *file.Service
	head     *HTTPHandler
	logger   *slog.Logger
	maxBatch int
}

// NewServer creates a server. A resolver is required.
func NewServer(opts ...Option) (*Server, error) {
	cfg := applyOptions(opts...)
	if cfg.Resolver == nil {
		return nil, errors.New("resolver is required")
	}

	s := &Server{
		resolver: cfg.Resolver,
		files:    cfg.Files,
		logger:   cfg.Logger,
		maxBatch: cfg.MaxBatch,
	}
	if cfg.Ledger != nil {
		s.head = NewHTTPHandler(cfg.Ledger)
	}
	return s, nil
}

// Handler returns the routes served by s.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// universal resolver driver API
	mux.HandleFunc("GET /1.0/identifiers/{did}", s.HandleResolve)
	mux.HandleFunc("POST /1.0/identifiers", s.HandleResolveMany)

	if s.files != nil {
		mux.HandleFunc("GET /files/{topicID}", s.HandleFile)
	}
	if s.head != nil {
		mux.HandleFunc("GET /topics/{topicID}/head", s.head.HandleGetHead)
	}
	return mux
}
