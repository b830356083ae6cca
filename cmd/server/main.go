package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/database"
	"github.com/iliyamo/library-circulation/internal/handler"
	"github.com/iliyamo/library-circulation/internal/middleware"
	"github.com/iliyamo/library-circulation/internal/queue"
	"github.com/iliyamo/library-circulation/internal/repository"
	"github.com/iliyamo/library-circulation/internal/router"
	"github.com/iliyamo/library-circulation/internal/service"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := config.Load()
	policy := config.LoadPolicy()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Redis is optional: without it the rate limiter and response cache
	// become pass-throughs.
	rdb := config.NewRedisClient()
	if rdb != nil {
		defer rdb.Close()
	}

	bookRepo := repository.NewBookRepo(db)
	loanRepo := repository.NewLoanRepo(db)
	reservationRepo := repository.NewReservationRepo(db)
	memberRepo := repository.NewMemberRepo(db)
	tokenRepo := repository.NewTokenRepo(db)

	var notifier service.Notifier = service.AMQPNotifier{}
	if os.Getenv("RABBITMQ_URL") == "" && os.Getenv("AMQP_URL") == "" {
		notifier = service.NopNotifier{}
	} else {
		go func() {
			if err := queue.StartNotificationConsumer(); err != nil {
				log.Printf("notification consumer stopped: %v", err)
			}
		}()
	}

	engine := service.NewCirculation(db, policy, bookRepo, loanRepo, reservationRepo, notifier)

	var sweeper *service.Sweeper
	if cfg.SweepEveryMin > 0 {
		sweeper = service.NewSweeper(engine, time.Duration(cfg.SweepEveryMin)*time.Minute)
		sweeper.Start()
	}

	e := echo.New()

	// The limiter is attached per group, after JWTAuth on the
	// authenticated ones, so its buckets key on the member identity.
	// Public and auth routes carry it too, keyed by ip for guests.
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, memberRepo, tokenRepo), cfg.JWTSecret, limiter)
	router.RegisterPublic(e,
		handler.NewCatalogHandler(bookRepo, reservationRepo),
		limiter,
		middleware.NewRedisCache(config.LoadCacheConfig(), rdb))
	router.RegisterMember(e, handler.NewMemberHandler(engine, loanRepo, reservationRepo), cfg.JWTSecret, limiter)
	router.RegisterStaff(e,
		handler.NewStaffHandler(engine),
		handler.NewAdminBookHandler(bookRepo, engine),
		cfg.JWTSecret,
		limiter)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	go func() {
		if err := e.Start(addr); err != nil {
			log.Printf("server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	if sweeper != nil {
		sweeper.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
