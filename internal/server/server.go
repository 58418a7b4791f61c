// Package server assembles the reference list service: auth, list routes,
// MAL import and the per-user progress websocket.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"otakushelf/internal/auth"
	"otakushelf/internal/library"
	synchub "otakushelf/internal/sync"
	"otakushelf/pkg/config"
	"otakushelf/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg     config.Server
	db      *sql.DB
	hub     *synchub.Hub
	imports *library.Importer
	router  *gin.Engine
	logger  *zap.Logger
}

// New wires every route. Background imports stop when ctx is cancelled.
func New(ctx context.Context, cfg config.Server, db *sql.DB, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), logging.Middleware(logger))
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	hub := synchub.NewHub(logger)
	libRepo := library.NewRepo(db)
	imports := library.NewImporter(ctx, libRepo, hub, cfg.ProgressEvery, logger)

	s := &Server{
		cfg:     cfg,
		db:      db,
		hub:     hub,
		imports: imports,
		router:  router,
		logger:  logger,
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", s.ready)

	tokens := auth.TokenService{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Duration: cfg.JWTTTL,
	}
	authRepo := auth.NewRepo(db)
	auth.NewHandler(authRepo, tokens, logger).RegisterRoutes(router.Group("/auth"))

	router.GET("/ws", auth.AuthMiddleware(tokens, authRepo), synchub.WSHandler(hub, ownStream))

	protected := router.Group("/api")
	protected.Use(auth.AuthMiddleware(tokens, authRepo))
	protected.GET("/me", func(c *gin.Context) {
		claims := auth.MustGetClaims(c)
		c.JSON(http.StatusOK, gin.H{
			"id":       claims.UserID,
			"username": claims.Username,
			"email":    claims.Email,
		})
	})
	library.NewHandler(libRepo, hub, imports, logger).RegisterRoutes(protected)

	return s
}

// ownStream admits a progress subscriber only for the signed-in user's id.
func ownStream(c *gin.Context, userID string) bool {
	return auth.MustGetClaims(c).UserID == userID
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Hub() *synchub.Hub { return s.hub }

// WaitImports blocks until every background import has finished.
func (s *Server) WaitImports() { s.imports.Wait() }

func (s *Server) ready(c *gin.Context) {
	stats := s.hub.Stats()
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":     "not_ready",
			"db_error":   err.Error(),
			"ws_clients": stats.Clients,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ready",
		"db":         "ok",
		"ws_users":   stats.Users,
		"ws_clients": stats.Clients,
	})
}

// Run serves on lis until ctx is cancelled, then drains HTTP, disconnects
// websocket clients and waits for running imports.
func (s *Server) Run(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.hub.CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.imports.Wait()
	return err
}
