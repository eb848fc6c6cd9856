package server

import (
	"net/http"

	"github.com/m-mizutani/recall/pkg/usecase/agent"
	"github.com/m-mizutani/recall/pkg/usecase/auth"
	"github.com/m-mizutani/recall/pkg/usecase/memory"
)

// maxBodySize bounds every request body. The largest valid body is a full
// embedding plus 10,000 characters of content plus 64 KiB of metadata.
const maxBodySize = 1 << 20

// Server is the REST surface of the memory service
type Server struct {
	agents *agent.UseCase
	auth   *auth.UseCase
	memory *memory.UseCase
	mcp    http.Handler
	mux    *http.ServeMux
	h      http.Handler
}

// Option is a functional option for Server
type Option func(*Server)

// WithMCP mounts an MCP handler at /mcp behind bearer authentication
func WithMCP(handler http.Handler) Option {
	return func(s *Server) {
		s.mcp = handler
	}
}

// New creates a new Server and registers its routes
func New(agents *agent.UseCase, authUC *auth.UseCase, memoryUC *memory.UseCase, opts ...Option) *Server {
	s := &Server{
		agents: agents,
		auth:   authUC,
		memory: memoryUC,
		mux:    http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/register", s.handleRegister)
	s.mux.Handle("POST /api/memory", s.authenticate(http.HandlerFunc(s.handleStore)))
	s.mux.Handle("GET /api/memories", s.authenticate(http.HandlerFunc(s.handleList)))
	s.mux.Handle("POST /api/search", s.authenticate(http.HandlerFunc(s.handleSearch)))
	if s.mcp != nil {
		s.mux.Handle("/mcp", s.authenticate(s.mcp))
	}
	s.h = withRequestLogger(s.mux)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.h.ServeHTTP(w, r)
}
