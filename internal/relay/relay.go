// ABOUTME: HTTP relay fronting the workflow-execution API.
// ABOUTME: POST /chat validates the request and streams the workflow run back verbatim.

package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/trycortexai/ui-kit/internal/cortex"
)

// ChatMessage is one entry of the history forwarded to the workflow.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the JSON request body for POST /chat.
type ChatRequest struct {
	Messages     []ChatMessage `json:"messages"`
	ClientSecret string        `json:"clientSecret"`
	WorkflowID   string        `json:"workflowId"`
}

// Config holds relay server settings.
type Config struct {
	// CortexBaseURL overrides the hosted API endpoint (tests point this at
	// a local fixture).
	CortexBaseURL string
	// AllowedOrigins for CORS; empty allows any origin, matching the
	// widget's embed-anywhere deployment model.
	AllowedOrigins []string
}

// Server is the relay HTTP handler.
type Server struct {
	router *chi.Mux
	cfg    Config
	logger *slog.Logger
}

// New creates a relay server.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "relay"),
	}

	allowed := cfg.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleWelcome)
	r.Get("/health", s.handleHealth)
	r.Post("/chat", s.handleChat)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleWelcome(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "Welcome to Cortex UI Kit API!")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Messages == nil {
		writeError(w, http.StatusBadRequest, "messages array is required")
		return
	}
	if req.ClientSecret == "" {
		writeError(w, http.StatusBadRequest, "clientSecret is required")
		return
	}
	if req.WorkflowID == "" {
		writeError(w, http.StatusBadRequest, "workflowId is required")
		return
	}

	client := cortex.New(cortex.Config{
		APIKey:  req.ClientSecret,
		BaseURL: s.cfg.CortexBaseURL,
	})

	stream, err := client.RunWorkflowStream(r.Context(), req.WorkflowID, map[string]any{
		"messages": req.Messages,
	})
	if err != nil {
		s.logger.Error("workflow stream failed", "workflow_id", req.WorkflowID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
			"type":  "cortex_error",
		})
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Warn("workflow stream interrupted", "error", err)
			}
			return
		}
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
