package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/recall/pkg/usecase/auth"
	"github.com/m-mizutani/recall/pkg/utils/logging"
)

const requestIDHeader = "X-Request-Id"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps streaming responses of the MCP handler working
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withRequestLogger attaches a logger carrying a request id to the request
// context and logs one line per request
func withRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		logger := logging.From(r.Context()).With("request_id", requestID)
		ctx := logging.With(r.Context(), logger)

		w.Header().Set(requestIDHeader, requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(ctx))

		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// authenticate rejects requests without a valid bearer key and stores the agent
// in the request context
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		agent, err := s.auth.Authenticate(ctx, r.Header.Get("Authorization"))
		if err != nil {
			writeError(ctx, w, err, "Internal server error")
			return
		}

		ctx = auth.WithAgent(ctx, agent)
		ctx = logging.With(ctx, logging.From(ctx).With("agent_id", agent.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
