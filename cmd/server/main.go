package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"inkwell/internal/config"
	"inkwell/internal/db"
	"inkwell/internal/handlers"
	mw "inkwell/internal/middleware"
	"inkwell/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var logger *zap.Logger
	if cfg.IsProduction() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}
	dbConn, err := sqlx.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open db", zap.Error(err))
	}
	dbConn.SetMaxOpenConns(10)
	dbConn.SetConnMaxLifetime(2 * time.Hour)
	if err = dbConn.Ping(); err != nil {
		logger.Fatal("failed to ping db", zap.Error(err))
	}
	if err := db.RunMigrations(dbConn); err != nil {
		logger.Fatal("failed migrations", zap.Error(err))
	}

	var blobs storage.BlobStore = storage.Disabled{}
	if cfg.HasCloudinary() {
		store, err := storage.NewCloudinaryStore(cfg.CloudinaryName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
		if err != nil {
			logger.Fatal("failed to initialize blob store", zap.Error(err))
		}
		blobs = store
	} else {
		logger.Warn("Cloudinary credentials not set, image uploads disabled")
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(mw.ZapRequestLogger(logger))
	r.Use(mw.Recover(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authHandler := handlers.NewAuthHandler(dbConn, []byte(cfg.JWTSecret), logger)
	journalHandler := handlers.NewJournalHandler(dbConn, blobs, logger)
	authMW := mw.NewAuthMiddleware([]byte(cfg.JWTSecret))

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", handlers.Health)

		api.Group(func(pub chi.Router) {
			if cfg.RedisURL != "" {
				opts, err := redis.ParseURL(cfg.RedisURL)
				if err != nil {
					logger.Fatal("invalid REDIS_URL", zap.Error(err))
				}
				limiter := mw.NewRateLimiter(redis.NewClient(opts), logger)
				pub.Use(limiter.Limit)
			} else {
				logger.Warn("REDIS_URL not set, auth rate limiting disabled")
			}
			pub.Post("/auth/signup", authHandler.Signup)
			pub.Post("/auth/login", authHandler.Login)
			pub.Post("/auth/forgot-password", authHandler.ForgotPassword)
		})

		api.Group(func(pr chi.Router) {
			pr.Use(authMW.RequireAuth)
			pr.Get("/auth/profile", authHandler.GetProfile)
			pr.Put("/auth/profile", authHandler.UpdateProfile)
			pr.Delete("/auth/account", authHandler.DeleteAccount)

			pr.Post("/journals", journalHandler.Create)
			pr.Get("/journals", journalHandler.List)
			pr.Put("/journals/{id}", journalHandler.Update)
			pr.Delete("/journals/{id}", journalHandler.Delete)
		})
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown initiated")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	logger.Info("server stopped")
}
