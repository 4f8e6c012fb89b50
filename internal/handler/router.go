package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/tao-chat/backend/internal/config"
	"github.com/zhouzirui/tao-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/tao-chat/backend/internal/handler/realtime"
	middlewarePkg "github.com/zhouzirui/tao-chat/backend/internal/middleware"
	chatService "github.com/zhouzirui/tao-chat/backend/internal/service/chat"
	"github.com/zhouzirui/tao-chat/backend/internal/service/presence"
	"github.com/zhouzirui/tao-chat/backend/internal/service/roster"
)

// Deps groups everything the router needs.
type Deps struct {
	Config   *config.Config
	Presence *presence.Coordinator
	Users    roster.Store
	Messages chatService.Log
	DB       Pinger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.Config.Server.AllowedOrigins))

	// Create handlers
	chatHandler := chat.New(deps.Messages, deps.Users)
	wsHandler := realtime.NewWebSocketHandler(deps.Presence, deps.Config.WebSocket, deps.Config.Server)
	healthHandler := NewHealthHandler(deps.Presence.Stats, deps.DB)

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
	})

	// Register WebSocket routes
	wsHandler.RegisterRoutes(r)

	return r
}
