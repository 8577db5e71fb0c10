package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-realtime-chat/internal/chat"
	"go-realtime-chat/internal/config"
	"go-realtime-chat/internal/db"
	"go-realtime-chat/internal/friend"
	"go-realtime-chat/internal/group"
	"go-realtime-chat/internal/log"
	myMiddleware "go-realtime-chat/internal/middleware"
	"go-realtime-chat/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	start := time.Now()
	addr := flag.String("addr", "", "http service address (overrides server.host/port)")
	flag.Parse()

	// 1. Config & Logging
	cfg, err := config.Load()
	if err != nil {
		l := log.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}
	log.Init(log.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: cfg.Log.ServiceName})
	logger := log.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database
	database, err := db.NewDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
	}
	defer database.Close()
	logger.Info().Msg("connected to PostgreSQL")

	if err := database.AutoMigrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
	logger.Info().Msg("database schema initialized")

	// 3. Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.Redis.Address).Msg("failed to connect to Redis")
	}
	logger.Info().Msg("connected to Redis")

	// 4. Users & presence persistence
	userRepo := user.NewRepository(database.Conn)
	statusRecorder := user.NewStatusRecorder(userRepo, redisClient, cfg.Redis.KeyPrefix)
	// Nobody is connected to a fresh process.
	if err := statusRecorder.Reset(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to reset online flags")
	}
	userService := user.NewService(userRepo, statusRecorder, cfg.Auth)
	userHandler := user.NewHandler(userService)

	// 5. Realtime core
	groupRepo := group.NewRepository(database.Conn)
	registry := chat.NewRegistry(statusRecorder, cfg.Chat.StatusWriteTimeout)
	resolver := chat.NewResolver(registry, groupRepo)
	hub := chat.NewHub(registry, resolver, cfg.Chat.EvictStaleConnections)

	chatRepo := chat.NewRepository(database.Conn)
	chatService := chat.NewService(chatRepo, userService, groupRepo, hub, cfg.Chat)
	chatHandler := chat.NewHandler(hub, chatService, userService, userService, cfg.WebSocket)
	conversations := chat.NewConversations(userService, groupRepo, hub)

	groupHandler := group.NewHandler(group.NewService(groupRepo, hub))
	friendHandler := friend.NewHandler(friend.NewService(friend.NewRepository(database.Conn)))

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 6. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(log.HTTPMiddleware(logger))
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	// Authenticates itself: header, ?token= or the first frame.
	r.Get("/ws", chatHandler.ServeWs)

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		r.Get("/api/users/me", userHandler.Me)
		r.Get("/api/users/profile", userHandler.Me)
		r.Put("/api/users/profile", userHandler.UpdateProfile)
		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Get("/api/users/online", chatHandler.Online)

		r.Route("/api/groups", groupHandler.Routes)
		r.Route("/api/friends", friendHandler.Routes)
		r.Route("/api/messages", chatHandler.Routes)
		r.Get("/api/chats", conversations.Handle)

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(myMiddleware.RequireAdmin)
			r.Post("/broadcast", chatHandler.Broadcast)
			r.Get("/broadcasts", chatHandler.ListBroadcasts)
			r.Delete("/broadcasts/{messageID}", chatHandler.DeleteBroadcast)
			r.Get("/stats", chatHandler.Stats)
			r.Get("/users/stats", userHandler.Stats)
		})
	})

	listen := cfg.Server.Addr()
	if *addr != "" {
		listen = *addr
	}
	srv := &http.Server{
		Addr:         listen,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", listen).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// Hijacked WebSocket connections are not tracked by Shutdown.
		hub.Shutdown()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	logger.Info().Dur("uptime", time.Since(start)).Msg("server stopped")
}
