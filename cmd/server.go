package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"copycat/config"
	"copycat/handlers"
	"copycat/middleware"
	"copycat/services"
	"copycat/websocket"
)

const shutdownTimeout = 10 * time.Second

const banner = `
  ____                    ____      _
 / ___|___  _ __  _   _  / ___|__ _| |_
| |   / _ \| '_ \| | | || |   / _' | __|
| |__| (_) | |_) | |_| || |__| (_| | |_
 \____\___/| .__/ \__, | \____\__,_|\__|
           |_|    |___/
`

// Server is the development copy server
type Server struct {
	Router *gin.Engine
	Hub    websocket.Hub
	Queue  services.CopyQueue
	Files  services.FileService

	cfg config.ServerConfig
}

// NewServer wires services, handlers and routes. Nothing runs until Start.
func NewServer(cfg *config.Config) (*Server, error) {
	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	}

	for _, dir := range []string{cfg.Server.SourceRoot, cfg.Server.DestinationRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create root %s: %w", dir, err)
		}
	}

	// Initialize services
	fileService, err := services.NewFileService(services.Roots{
		Source:      cfg.Server.SourceRoot,
		Destination: cfg.Server.DestinationRoot,
	})
	if err != nil {
		return nil, err
	}
	hub := websocket.NewHub()
	copyQueue := services.NewCopyQueue(cfg.Server.Workers, fileService, hub)

	// Initialize handlers
	handlers.Version = Version
	copyHandler := handlers.NewCopyHandler(copyQueue, hub)
	fileHandler := handlers.NewFileHandler(fileService)
	healthHandler := handlers.NewHealthHandler(copyQueue, hub, fileService.Roots())

	// Setup router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logging())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))

	setupRoutes(r, middleware.BearerToken(cfg.Token), copyHandler, fileHandler, healthHandler)

	return &Server{
		Router: r,
		Hub:    hub,
		Queue:  copyQueue,
		Files:  fileService,
		cfg:    cfg.Server,
	}, nil
}

// setupRoutes configures all the HTTP routes
func setupRoutes(r *gin.Engine, auth gin.HandlerFunc, copyHandler *handlers.CopyHandler, fileHandler *handlers.FileHandler, healthHandler *handlers.HealthHandler) {
	// Health check endpoint
	r.GET("/health", healthHandler.HealthCheck)

	// Progress stream
	r.GET("/ws/progress", auth, copyHandler.HandleProgressStream)

	apiGroup := r.Group("/api", auth)
	{
		apiGroup.GET("/status", healthHandler.APIStatus)

		// Browsing
		apiGroup.GET("/browse", fileHandler.Browse)
		apiGroup.GET("/folder-info", fileHandler.FolderInfo)
		apiGroup.POST("/create-folder", fileHandler.CreateFolder)
		apiGroup.DELETE("/files/delete", fileHandler.Delete)

		// Copy jobs
		copyGroup := apiGroup.Group("/copy")
		{
			copyGroup.POST("/start", copyHandler.StartCopy)
			copyGroup.GET("/queue", copyHandler.GetQueue)
			copyGroup.DELETE("/queue", copyHandler.ClearQueue)
			copyGroup.GET("/history", copyHandler.GetHistory)
			copyGroup.DELETE("/:id", copyHandler.CancelJob)
			copyGroup.POST("/:id/retry", copyHandler.RetryJob)
		}
		apiGroup.GET("/jobs/:id", copyHandler.GetJob)
	}
}

// Start runs the hub and the copy workers until ctx is done
func (s *Server) Start(ctx context.Context) {
	go s.Hub.Run(ctx)
	s.Queue.Start(ctx)
}

// ListenAndServe serves on the configured port until ctx is done, then
// shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.Start(ctx)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.cfg.Port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("copy server listening", "addr", srv.Addr, "source", s.Files.Roots().Source, "destination", s.Files.Roots().Destination)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server shutdown: %w", err)
	}
	slog.Info("copy server stopped")
	return nil
}

func (a *app) newServerCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run a development copy server that streams job progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}

			srv, err := NewServer(a.cfg)
			if err != nil {
				return err
			}

			fmt.Fprint(a.out, banner)
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 4223, "port to listen on")
	return cmd
}
