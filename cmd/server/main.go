package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/keyward/backend/internal/config"
	"github.com/keyward/backend/internal/database"
	"github.com/keyward/backend/internal/handlers"
	"github.com/keyward/backend/internal/middleware"
	"github.com/keyward/backend/internal/repository"
	"github.com/keyward/backend/internal/services"
	"github.com/keyward/backend/pkg/logger"
	"github.com/keyward/backend/pkg/utils"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	users := repository.NewUserStore(db)
	credentials := repository.NewCredentialStore(db)
	recoveryStore := repository.NewRecoveryStore(db)

	var challengeStore repository.ChallengeStore = repository.NewChallengeStore(db)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		challengeStore = repository.NewRedisChallengeStore(rdb)
		logger.Info("challenge_store_redis", map[string]interface{}{"addr": cfg.Redis.Addr})
	}

	events := services.NewEvents()
	events.Subscribe(services.LogListener)
	if cfg.Kafka.Enabled {
		sink, err := services.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Fatalf("kafka initialization failed: %v", err)
		}
		defer sink.Close()
		events.Subscribe(sink.Listener)
	}

	verifier, err := services.NewWebAuthnVerifier(cfg.RelyingParty)
	if err != nil {
		log.Fatalf("webauthn initialization failed: %v", err)
	}

	challenges := services.NewChallengeService(challengeStore, cfg.Challenge.TTL)
	ceremonies := services.NewCeremonyService(users, credentials, challenges, verifier, events)
	mailer := services.NewSMTPMailer(cfg.SMTP, cfg.Server.FrontendURL)
	recovery := services.NewRecoveryService(users, recoveryStore, mailer, events, cfg.Recovery, cfg.RelyingParty.DisplayName)

	webauthnHandler := handlers.NewWebAuthnHandler(ceremonies)
	recoveryHandler := handlers.NewRecoveryHandler(recovery, users)
	usersHandler := handlers.NewUsersHandler(users)

	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.RelyingParty.Origins))
	app.Use(middleware.RequestLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register/begin", webauthnHandler.RegisterBegin)
	authRoutes.Post("/register/finish", webauthnHandler.RegisterFinish)
	authRoutes.Post("/login/begin", authMiddleware.OptionalAuth, webauthnHandler.LoginBegin)
	authRoutes.Post("/login/finish", webauthnHandler.LoginFinish)
	authRoutes.Get("/me", authMiddleware.RequireAuth, usersHandler.Me)
	authRoutes.Put("/me", authMiddleware.RequireAuth, usersHandler.UpdateMe)
	authRoutes.Delete("/me", authMiddleware.RequireAuth, usersHandler.DeleteAccount)

	credentialRoutes := api.Group("/credentials", authMiddleware.RequireAuth)
	credentialRoutes.Get("/", webauthnHandler.ListCredentials)
	credentialRoutes.Put("/:id", webauthnHandler.RenameCredential)
	credentialRoutes.Delete("/:id", webauthnHandler.DeleteCredential)

	recoveryRoutes := api.Group("/recovery")
	recoveryRoutes.Post("/codes", authMiddleware.RequireAuth, recoveryHandler.GenerateCodes)
	recoveryRoutes.Get("/codes", authMiddleware.RequireAuth, recoveryHandler.CodeStatus)
	recoveryRoutes.Post("/codes/verify", recoveryHandler.VerifyCode)
	recoveryRoutes.Post("/email", recoveryHandler.InitiateEmail)
	recoveryRoutes.Post("/email/verify", recoveryHandler.VerifyEmailToken)
	recoveryRoutes.Post("/totp/setup", authMiddleware.RequireAuth, recoveryHandler.TOTPSetup)
	recoveryRoutes.Post("/totp/confirm", authMiddleware.RequireAuth, recoveryHandler.TOTPConfirm)
	recoveryRoutes.Post("/totp/verify", recoveryHandler.TOTPVerify)
	recoveryRoutes.Delete("/totp", authMiddleware.RequireAuth, recoveryHandler.TOTPDisable)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go runSweeper(sweepCtx, challenges, recovery)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
		"rp_id":   cfg.RelyingParty.ID,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		stopSweep()
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}

// runSweeper periodically clears expired challenges and recovery tokens.
func runSweeper(ctx context.Context, challenges *services.ChallengeService, recovery *services.RecoveryService) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := challenges.PurgeExpired(ctx); err != nil {
				logger.Warn("challenge_sweep_failed", map[string]interface{}{"error": err.Error()})
			}
			if err := recovery.PurgeExpiredTokens(ctx); err != nil {
				logger.Warn("recovery_token_sweep_failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
