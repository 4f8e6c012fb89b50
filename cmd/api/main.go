package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/tao-chat/backend/internal/config"
	"github.com/zhouzirui/tao-chat/backend/internal/database"
	"github.com/zhouzirui/tao-chat/backend/internal/handler"
	"github.com/zhouzirui/tao-chat/backend/internal/service/chat"
	"github.com/zhouzirui/tao-chat/backend/internal/service/presence"
	"github.com/zhouzirui/tao-chat/backend/internal/service/roster"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	deps := handler.Deps{Config: cfg}

	// Initialize roster and message log
	if cfg.Database.Enabled() {
		pool, err := database.NewPool(ctx, cfg.Database.URL, database.DefaultPoolOptions())
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer pool.Close()

		if err := database.RunMigrations(ctx, pool); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}

		users, err := roster.NewPostgresStore(ctx, pool, cfg.Chat.MaxUsernameLength)
		if err != nil {
			log.Fatalf("failed to initialize roster: %v", err)
		}

		deps.Users = users
		deps.Messages = chat.NewPostgresLog(pool, cfg.Chat.MaxMessageLength)
		deps.DB = pool
		log.Println("using postgres storage")
	} else {
		deps.Users = roster.NewMemoryStore(cfg.Chat.MaxUsernameLength)
		deps.Messages = chat.NewService(chat.Options{
			MaxMessageLength: cfg.Chat.MaxMessageLength,
			MaxHistory:       cfg.Chat.MaxHistory,
		})
		log.Println("DATABASE_URL 未配置，使用内存存储")
	}

	deps.Presence = presence.New(deps.Users, deps.Messages, presence.Options{
		HistoryLimit: cfg.Chat.HistoryLimit,
		StoreTimeout: cfg.Chat.StoreTimeout,
	})

	router := handler.NewRouter(deps)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Tao Chat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Printf("server error: %v", err)
	}
}

// runServer blocks until ctx is cancelled or the listener fails. Hijacked
// websocket connections are not tracked by Shutdown, so they close when the
// process exits.
func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
