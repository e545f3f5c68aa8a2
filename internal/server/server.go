// Package server exposes the stats API over HTTP plus the websocket feed.
package server

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"golang.org/x/crypto/bcrypt"

	"github.com/francyfox/sqstat/internal/config"
	"github.com/francyfox/sqstat/internal/metrics"
	"github.com/francyfox/sqstat/internal/store"
	"github.com/francyfox/sqstat/internal/ws"
)

// Server is the HTTP server instance.
type Server struct {
	app     *fiber.App
	cfg     *config.Config
	metrics *metrics.Service
	index   store.Index
	hub     *ws.Hub
	log     *slog.Logger
}

// New creates a Server wired to the metrics layer, the raw record index, and
// the websocket hub.
func New(cfg *config.Config, svc *metrics.Service, index store.Index, hub *ws.Hub, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "sqstat",
		DisableStartupMessage: true,
	})

	s := &Server{
		app:     app,
		cfg:     cfg,
		metrics: svc,
		index:   index,
		hub:     hub,
		log:     logger,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	if auth := s.createAuthMiddleware(); auth != nil {
		s.app.Use(auth)
	}
}

// createAuthMiddleware creates basic auth middleware based on configuration.
// Returns nil if no authentication is configured.
func (s *Server) createAuthMiddleware() fiber.Handler {
	// Priority 1: htpasswd file
	if s.cfg.HtpasswdFile != "" {
		users, err := parseHtpasswd(s.cfg.HtpasswdFile, s.log)
		if err != nil {
			s.log.Warn("htpasswd file unusable, auth disabled", "error", err)
			return nil
		}
		return basicauth.New(basicauth.Config{
			Authorizer: func(user, pass string) bool {
				hashed, exists := users[user]
				if !exists {
					return false
				}
				return verifyPassword(pass, hashed)
			},
		})
	}

	// Priority 2: environment variable credentials
	if s.cfg.AuthUser != "" && s.cfg.AuthPass != "" {
		return basicauth.New(basicauth.Config{
			Users: map[string]string{s.cfg.AuthUser: s.cfg.AuthPass},
		})
	}

	return nil
}

// parseHtpasswd reads an htpasswd file into a username → bcrypt hash map.
// Only bcrypt entries are accepted.
func parseHtpasswd(path string, logger *slog.Logger) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open htpasswd file: %w", err)
	}
	defer file.Close()

	users := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			logger.Warn("invalid htpasswd entry", "line", lineNum)
			continue
		}
		username, hash := parts[0], parts[1]

		if !strings.HasPrefix(hash, "$2") {
			logger.Warn("unsupported htpasswd hash, only bcrypt is accepted",
				"user", username, "line", lineNum)
			continue
		}
		users[username] = hash
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read htpasswd file: %w", err)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("no valid users in htpasswd file")
	}
	return users, nil
}

func verifyPassword(plaintext, hashed string) bool {
	if !strings.HasPrefix(hashed, "$2") {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plaintext)) == nil
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)

	stats := s.app.Group("/stats")
	stats.Get("/access-logs", s.handleAccessLogs)
	stats.Get("/access-logs/metrics", s.handleMetrics)
	stats.Get("/access-logs/metrics/domains", s.handleDomains)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.handleFeed))
}

// handleFeed subscribes the connection to the change feed and blocks until
// the peer goes away.
func (s *Server) handleFeed(conn *websocket.Conn) {
	client := ws.NewClient(conn, s.log)
	s.hub.Register(client)
	defer s.hub.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.log.Info("server listening", "addr", s.cfg.Listen)
	return s.app.Listen(s.cfg.Listen)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.log.Info("server shutting down")
	return s.app.Shutdown()
}
