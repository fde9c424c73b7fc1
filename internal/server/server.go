package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"

	"github.com/akolanti/layoutlens/internal/adapter/utils"
	"github.com/akolanti/layoutlens/internal/config"
	"github.com/akolanti/layoutlens/internal/middleware"
	"github.com/akolanti/layoutlens/pkg/logger_i"
	"github.com/go-chi/chi/v5"
)

var (
	server  *http.Server
	_logger *logger_i.Logger
)

type ShutdownParams struct {
	GracefulShutdown chan os.Signal
	StopExecution    chan bool
	WorkerStop       chan bool
	Group            *sync.WaitGroup
	CloseServices    context.CancelFunc
}

func CreateServer(listenAddr string) {
	_logger = logger_i.NewLogger("Server")

	r := utils.GetRouter()

	registerRoutes(r.Router)
	server = &http.Server{
		Addr:         listenAddr,
		Handler:      r.Router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	_logger.Info("Server is listening at", "address", listenAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		_logger.Error("Server crashed", "error :", err.Error(), "addr", listenAddr)
	}
}

func registerRoutes(r chi.Router) {
	r.Get("/health", middleware.GetHandler)

	r.Post("/extract", middleware.ExtractHandler)
	r.Get("/status/{id}", middleware.GetStatusHandler)
	r.Post("/extract/{id}/retry", middleware.RetryHandler)
	r.Post("/extract/{id}/cancel", middleware.CancelHandler)

	r.Get("/sessions/{id}/fields", middleware.GetSessionFieldsHandler)
	r.Post("/sessions/{id}/fields", middleware.PostSessionFieldHandler)
	r.Patch("/sessions/{id}/fields/{fieldId}", middleware.PatchSessionFieldHandler)
	r.Delete("/sessions/{id}/fields/{fieldId}", middleware.DeleteSessionFieldHandler)
	r.Delete("/sessions/{id}", middleware.DeleteSessionHandler)
	r.Post("/reextract", middleware.ReextractHandler)

	r.Post("/templates", middleware.PostTemplateHandler)
	r.Post("/templates/match", middleware.MatchTemplatesHandler)
	r.Get("/templates/{name}", middleware.GetTemplateHandler)
	r.Delete("/templates/{name}", middleware.DeleteTemplateHandler)
	r.Post("/align", middleware.AlignHandler)
}

func ShutDownHandler(shutdownParams ShutdownParams) {
	state := <-shutdownParams.GracefulShutdown
	_logger.Info("Server is shutting down", "signal", state.String())

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownContextTimeout)
	defer cancel()

	done := make(chan struct{})

	go func() {
		server.SetKeepAlivesEnabled(false)

		if err := server.Shutdown(ctx); err != nil {
			_logger.Error("Could not shutdown gracefully", "error", err)
		}

		//close workers
		close(shutdownParams.WorkerStop)
		shutdownParams.Group.Wait()
		shutdownParams.CloseServices()
		close(shutdownParams.StopExecution)
		close(done)
	}()

	select {
	case <-done:
		_logger.Info("Gracefully is shutting down")
	case <-ctx.Done():
		_logger.Info("Force Shut down")
		os.Exit(1)
	}
}
