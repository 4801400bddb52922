package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/concierge/internal/gateway"
)

// maxBodyBytes bounds request bodies well above the message limit.
const maxBodyBytes = 64 << 10

type Server struct {
	router   *chi.Mux
	port     int
	gw       *gateway.Gateway
	apiToken string
	logger   *slog.Logger
	http     *http.Server
}

// NewServer builds the HTTP surface. Forwarding headers are honored only
// from trustedProxies; with none, the connection address identifies the
// caller.
func NewServer(port int, apiToken string, trustedProxies []netip.Prefix, gw *gateway.Gateway, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		gw:       gw,
		apiToken: apiToken,
		logger:   logger,
	}

	router.Get("/health", s.health)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(CallerMiddleware(apiToken, trustedProxies))
		r.Post("/assistant/ask", s.ask)
		r.Post("/conversations", s.createConversation)
		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/messages", s.listMessages)
			r.Post("/messages", s.sendMessage)
			r.Post("/read", s.markRead)
			r.Get("/unread", s.unreadCount)
			r.Post("/close", s.closeConversation)
		})
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": len(s.gw.Providers()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
