package realtime

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/tao-chat/backend/internal/config"
	"github.com/zhouzirui/tao-chat/backend/internal/model/chat"
	"github.com/zhouzirui/tao-chat/backend/internal/service/presence"
)

// Coordinator is the part of presence.Coordinator the transport drives.
type Coordinator interface {
	Connect(conn string, out presence.Outbox)
	Handle(ctx context.Context, cmd presence.Command) error
}

// WebSocketHandler WebSocket聊天处理器
type WebSocketHandler struct {
	coord    Coordinator
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(coord Coordinator, cfg config.WebSocketConfig, server config.ServerConfig) *WebSocketHandler {
	return &WebSocketHandler{
		coord: coord,
		cfg:   cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(server),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}

	c := newClient(uuid.NewString(), conn, h.cfg)
	log.Printf("[websocket] new connection %s from %s", c.id, r.RemoteAddr)

	h.coord.Connect(c.id, c)
	go c.writePump()

	defer func() {
		if err := h.coord.Handle(context.Background(), presence.Disconnect{Conn: c.id}); err != nil {
			log.Printf("[websocket] disconnect %s: %v", c.id, err)
		}
		c.close()
		log.Printf("[websocket] connection %s closed", c.id)
	}()

	conn.SetReadLimit(h.cfg.MaxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Printf("[websocket] read error on %s: %v", c.id, err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		cmd, err := decodeCommand(c.id, frame)
		if err != nil {
			c.Deliver(presence.Error{Message: err.Error()})
			continue
		}

		if err := h.coord.Handle(r.Context(), cmd); err != nil && !chat.IsUserError(err) {
			if errors.Is(err, presence.ErrUnknownConnection) {
				return
			}
			log.Printf("[websocket] %T from %s: %v", cmd, c.id, err)
		}
	}
}

func originChecker(server config.ServerConfig) func(r *http.Request) bool {
	if server.AllowAnyOrigin() {
		return func(*http.Request) bool { return true }
	}

	allowed := make(map[string]struct{}, len(server.AllowedOrigins))
	for _, origin := range server.AllowedOrigins {
		allowed[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
