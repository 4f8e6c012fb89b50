package chat

import (
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/tao-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/tao-chat/backend/internal/service/chat"
	"github.com/zhouzirui/tao-chat/backend/internal/service/roster"
	"github.com/zhouzirui/tao-chat/backend/pkg/utils"
)

// maxLimit caps the limit query parameter.
const maxLimit = 200

// Handler 聊天室只读查询的HTTP处理器
type Handler struct {
	messages chatService.Log
	users    roster.Store
}

// New 创建聊天处理器
func New(messages chatService.Log, users roster.Store) *Handler {
	return &Handler{
		messages: messages,
		users:    users,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/messages", h.handleRecentMessages)
	r.Get("/users", h.handleActiveUsers)
}

// handleRecentMessages 返回最近的消息
func (h *Handler) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	limit := chat.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLimit)
	}

	messages, err := h.messages.Recent(r.Context(), limit)
	if err != nil {
		log.Printf("[http] recent messages: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch messages")
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}

	utils.RespondJSON(w, http.StatusOK, messages)
}

// handleActiveUsers 返回在线用户
func (h *Handler) handleActiveUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ActiveRoster(r.Context())
	if err != nil {
		log.Printf("[http] active users: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch users")
		return
	}
	if users == nil {
		users = []chat.Identity{}
	}

	utils.RespondJSON(w, http.StatusOK, users)
}
