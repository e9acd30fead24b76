package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ternarybob/arbor"

	"github.com/markdave123-py/documind/internal/api/handlers"
	"github.com/markdave123-py/documind/internal/common"
)

const Version = "1.0.0"

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     arbor.ILogger
}

// NewServer builds and wires all routes.
func NewServer(a *App) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + a.Config.Port,
			Handler:           NewRouter(a),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: a.Logger,
	}
}

// NewRouter exposes the document, query, history and cache operations over HTTP.
func NewRouter(a *App) http.Handler {
	docHandler := handlers.NewDocumentHandler(a.Documents, a.Logger)
	chatHandler := handlers.NewChatHandler(a.Retrieval, a.Logger)
	historyHandler := handlers.NewHistoryHandler(a.History, a.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/", handlers.Health(Version))

	r.Route("/api", func(api chi.Router) {
		api.Post("/documents/upload", docHandler.UploadDocument)
		api.Get("/documents", docHandler.ListDocuments)
		api.Get("/documents/{id}", docHandler.GetDocument)
		api.Delete("/documents/{id}", docHandler.DeleteDocument)

		api.Post("/query", chatHandler.Query)

		api.Get("/history/{session_id}", historyHandler.GetHistory)
		api.Get("/stats", historyHandler.GetStats)

		api.Post("/cache/clear", chatHandler.ClearCache)
		api.Get("/cache/stats", chatHandler.CacheStats)
	})

	return r
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

// Serve starts the workers and the HTTP server and blocks until ctx is done
// or the server fails. Queued ingestion finishes its current document before return.
func (a *App) Serve(ctx context.Context) error {
	workersCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	a.Start(workersCtx)
	common.SafeGo(a.Logger, "ingest-resume", func() { a.ResumeIngestion(workersCtx) })

	server := NewServer(a)
	errCh := make(chan error, 1)
	common.SafeGo(a.Logger, "http-server", func() { errCh <- server.Start() })

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		a.Logger.Warn().Err(serr).Msg("HTTP shutdown incomplete")
	}

	stopWorkers()
	a.DocProcessor.Wait()
	return err
}
