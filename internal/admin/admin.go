// Package admin serves the read-only HTTP surface next to the MiniTel listener.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/minitel/internal/auth"
	"github.com/danmuck/minitel/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// Connection is the admin view of one tracked protocol connection.
type Connection struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remote_addr"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	IdleFor      string    `json:"idle_for"`
}

// Source reports the live connection set.
type Source interface {
	Connections() []Connection
}

type Config struct {
	Service     string
	CORSOrigins []string
	// Token, when set, is required as a bearer token on every route except
	// /health.
	Token string
}

// NewRouter builds the admin engine. Only GET routes are exposed.
func NewRouter(cfg Config, src Source) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	started := time.Now()
	service := strings.TrimSpace(cfg.Service)
	if service == "" {
		service = "minitel-server"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":             "ok",
			"service":            service,
			"uptime":             time.Since(started).String(),
			"active_connections": len(src.Connections()),
		})
	})

	guarded := r.Group("/")
	if token := strings.TrimSpace(cfg.Token); token != "" {
		guarded.Use(requireToken(auth.StaticToken(token)))
	}
	guarded.GET("/connections", func(c *gin.Context) {
		conns := src.Connections()
		c.JSON(http.StatusOK, gin.H{
			"count":       len(conns),
			"connections": conns,
		})
	})
	guarded.GET("/metrics", gin.WrapH(observability.MetricsHandler()))
	return r
}

// Serve runs handler on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(addr))
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, handler)
}

func ServeListener(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("admin listening")

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("admin shutdown")
		}
	}()
	defer close(done)

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.CheckHeader(v, c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
