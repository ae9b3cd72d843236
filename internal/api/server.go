// Package api implements the HTTP boundary: the streaming chat
// endpoint plus health and operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sodown4thecause/CRM/internal/agent"
	"github.com/sodown4thecause/CRM/internal/buildinfo"
	"github.com/sodown4thecause/CRM/internal/llm"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Registrar mounts additional routes (the dashboard) onto the server mux.
type Registrar interface {
	Register(mux *http.ServeMux)
}

// Server is the HTTP server for the CRM.
type Server struct {
	address string
	port    int
	loop    *agent.Loop
	web     Registrar
	logger  *slog.Logger
	server  *http.Server
	stats   *SessionStats
}

// SessionStats tracks token usage across the process lifetime.
type SessionStats struct {
	mu                sync.Mutex
	TotalInputTokens  int64 `json:"total_input_tokens"`
	TotalOutputTokens int64 `json:"total_output_tokens"`
	TotalTurns        int64 `json:"total_turns"`
	TotalToolCalls    int64 `json:"total_tool_calls"`
}

func (s *SessionStats) Record(result *agent.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalInputTokens += int64(result.InputTokens)
	s.TotalOutputTokens += int64(result.OutputTokens)
	s.TotalToolCalls += int64(result.ToolCalls)
	s.TotalTurns++
}

func (s *SessionStats) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int64{
		"total_input_tokens":  s.TotalInputTokens,
		"total_output_tokens": s.TotalOutputTokens,
		"total_turns":         s.TotalTurns,
		"total_tool_calls":    s.TotalToolCalls,
	}
}

// NewServer creates the HTTP server. The web registrar may be nil for
// API-only operation.
func NewServer(address string, port int, loop *agent.Loop, web Registrar, logger *slog.Logger) *Server {
	return &Server{
		address: address,
		port:    port,
		loop:    loop,
		web:     web,
		logger:  logger,
		stats:   &SessionStats{},
	}
}

// Handler builds the full route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("GET /api/session/stats", s.handleSessionStats)

	if s.web != nil {
		s.web.Register(mux)
	}
	return s.withLogging(mux)
}

// Start begins serving HTTP requests. Blocks until the listener fails
// or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // long for streaming responses
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
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

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.stats.Snapshot(), s.logger)
}

// ChatRequest is the chat endpoint's request body. Stream defaults to
// true; the widget always streams.
type ChatRequest struct {
	Messages []llm.Message `json:"messages"`
	Stream   *bool         `json:"stream,omitempty"`
}

// ChatResponse is the non-streaming response shape.
type ChatResponse struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage reports token consumption for one turn.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "messages are required")
		return
	}

	if req.Stream == nil || *req.Stream {
		s.handleStreamingChat(w, r, req.Messages)
		return
	}

	result, err := s.loop.Run(r.Context(), req.Messages, nil)
	if err != nil {
		s.logger.Error("turn failed", "error", err)
		s.errorResponse(w, http.StatusBadGateway, "assistant unavailable")
		return
	}
	s.stats.Record(result)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		ID:      "chat-" + uuid.NewString(),
		Content: result.Content,
		Usage: Usage{
			PromptTokens:     result.InputTokens,
			CompletionTokens: result.OutputTokens,
			TotalTokens:      result.InputTokens + result.OutputTokens,
		},
	}, s.logger)
}

// StreamChunk is the SSE wire format for streaming responses.
type StreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Choices []StreamChoice `json:"choices"`
}

// StreamChoice carries incremental delta content.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// StreamDelta is the incremental content payload.
type StreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

func (s *Server) handleStreamingChat(w http.ResponseWriter, r *http.Request, messages []llm.Message) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	completionID := "chat-" + uuid.NewString()
	created := time.Now().Unix()

	// Initial chunk announcing the assistant role.
	s.writeSSE(w, StreamChunk{
		ID:      completionID,
		Object:  "chat.completion.chunk",
		Created: created,
		Choices: []StreamChoice{{Delta: StreamDelta{Role: "assistant"}}},
	})
	flusher.Flush()

	rc := http.NewResponseController(w)
	streamed := false

	callback := func(event llm.StreamEvent) {
		switch event.Kind {
		case llm.KindToken:
			streamed = true
			s.writeSSE(w, StreamChunk{
				ID:      completionID,
				Object:  "chat.completion.chunk",
				Created: created,
				Choices: []StreamChoice{{Delta: StreamDelta{Content: event.Token}}},
			})
			flusher.Flush()

		case llm.KindToolCallStart, llm.KindToolCallDone:
			// Tool rounds can be silent for seconds; SSE comments keep
			// the connection and any proxies alive.
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}

		if err := rc.SetWriteDeadline(time.Now().Add(120 * time.Second)); err != nil {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
	}

	result, err := s.loop.Run(r.Context(), messages, callback)
	if err != nil {
		s.logger.Error("turn failed", "error", err)
		// Headers are already out; surface the failure in-band so the
		// widget can show something.
		s.writeSSE(w, StreamChunk{
			ID:      completionID,
			Object:  "chat.completion.chunk",
			Created: created,
			Choices: []StreamChoice{{Delta: StreamDelta{
				Content: "Sorry, I ran into a connection problem. Please try again.",
			}}},
		})
		fmt.Fprintf(w, "data: [DONE]\n\n")
		flusher.Flush()
		return
	}
	s.stats.Record(result)

	// Content may arrive unstreamed when the provider answered without
	// a callback round; emit it now.
	if !streamed && result.Content != "" {
		callback(llm.StreamEvent{Kind: llm.KindToken, Token: result.Content})
	}

	finishReason := "stop"
	s.writeSSE(w, StreamChunk{
		ID:      completionID,
		Object:  "chat.completion.chunk",
		Created: created,
		Choices: []StreamChoice{{FinishReason: &finishReason}},
	})
	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) writeSSE(w http.ResponseWriter, chunk StreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		s.logger.Debug("failed to marshal SSE chunk", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		s.logger.Debug("failed to write SSE chunk", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
