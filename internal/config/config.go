package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/tao-chat/backend/internal/model/chat"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Chat      ChatConfig
	WebSocket WebSocketConfig
	Database  DatabaseConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	chatCfg, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	ws, err := loadWebSocketConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Chat:      chatCfg,
		WebSocket: ws,
		Database:  DatabaseConfig{URL: strings.TrimSpace(os.Getenv("DATABASE_URL"))},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// AllowAnyOrigin reports whether every origin is accepted.
func (c ServerConfig) AllowAnyOrigin() bool {
	for _, origin := range c.AllowedOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	origins := parseListEnv("CORS_ALLOWED_ORIGINS", []string{"*"})

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// ChatConfig 描述聊天室的限制。
type ChatConfig struct {
	HistoryLimit      int
	// MaxHistory 限制内存中保留的消息数，超出时丢弃最早的消息。
	// 这是清空全部消息之外唯一的删除方式，默认 0 表示关闭。
	MaxHistory        int
	MaxMessageLength  int
	MaxUsernameLength int
	// StoreTimeout 限制单条指令的存储调用时长。
	StoreTimeout      time.Duration
}

func loadChatConfig() (ChatConfig, error) {
	history, err := parseIntEnv("CHAT_HISTORY_LIMIT", chat.DefaultRecentLimit, 1)
	if err != nil {
		return ChatConfig{}, err
	}

	maxHistory, err := parseIntEnv("CHAT_MAX_HISTORY", 0, 0)
	if err != nil {
		return ChatConfig{}, err
	}

	maxMessage, err := parseIntEnv("CHAT_MAX_MESSAGE_LENGTH", chat.DefaultMaxMessageLength, 1)
	if err != nil {
		return ChatConfig{}, err
	}

	maxUsername, err := parseIntEnv("CHAT_MAX_USERNAME_LENGTH", chat.DefaultMaxUsernameLength, 1)
	if err != nil {
		return ChatConfig{}, err
	}

	storeTimeout, err := parseDurationEnv("CHAT_STORE_TIMEOUT", 5*time.Second)
	if err != nil {
		return ChatConfig{}, err
	}

	return ChatConfig{
		HistoryLimit:      history,
		MaxHistory:        maxHistory,
		MaxMessageLength:  maxMessage,
		MaxUsernameLength: maxUsername,
		StoreTimeout:      storeTimeout,
	}, nil
}

// WebSocketConfig 描述 WebSocket 连接参数。
type WebSocketConfig struct {
	SendBuffer    int
	PingInterval  time.Duration
	PongWait      time.Duration
	WriteWait     time.Duration
	MaxFrameBytes int64
}

func loadWebSocketConfig() (WebSocketConfig, error) {
	sendBuffer, err := parseIntEnv("WS_SEND_BUFFER", 256, 1)
	if err != nil {
		return WebSocketConfig{}, err
	}

	pongWait, err := parseDurationEnv("WS_PONG_WAIT", 60*time.Second)
	if err != nil {
		return WebSocketConfig{}, err
	}

	ping, err := parseDurationEnv("WS_PING_INTERVAL", 54*time.Second)
	if err != nil {
		return WebSocketConfig{}, err
	}
	if ping >= pongWait {
		return WebSocketConfig{}, fmt.Errorf("WS_PING_INTERVAL (%s) must be shorter than WS_PONG_WAIT (%s)", ping, pongWait)
	}

	writeWait, err := parseDurationEnv("WS_WRITE_WAIT", 10*time.Second)
	if err != nil {
		return WebSocketConfig{}, err
	}

	maxFrame, err := parseIntEnv("WS_MAX_FRAME_BYTES", 16*1024, 512)
	if err != nil {
		return WebSocketConfig{}, err
	}

	return WebSocketConfig{
		SendBuffer:    sendBuffer,
		PingInterval:  ping,
		PongWait:      pongWait,
		WriteWait:     writeWait,
		MaxFrameBytes: int64(maxFrame),
	}, nil
}

// DefaultWebSocketConfig mirrors the environment defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		SendBuffer:    256,
		PingInterval:  54 * time.Second,
		PongWait:      60 * time.Second,
		WriteWait:     10 * time.Second,
		MaxFrameBytes: 16 * 1024,
	}
}

// DatabaseConfig 描述可选的 Postgres 存储。
type DatabaseConfig struct {
	URL string
}

// Enabled 表示是否配置了数据库。
func (c DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

func parseIntEnv(key string, defaultValue, minValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	if *val < minValue {
		return 0, fmt.Errorf("invalid %s value %d: must be at least %d", key, *val, minValue)
	}
	return *val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseListEnv(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}

	var items []string
	for _, part := range strings.Split(raw, ",") {
		if item := strings.TrimSpace(part); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
