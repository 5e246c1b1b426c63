package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uslugihub/booking-backend/internal/account"
	"github.com/uslugihub/booking-backend/internal/config"
	"github.com/uslugihub/booking-backend/internal/db"
	"github.com/uslugihub/booking-backend/internal/http/handlers"
	"github.com/uslugihub/booking-backend/internal/http/router"
	"github.com/uslugihub/booking-backend/internal/jobs"
	"github.com/uslugihub/booking-backend/internal/logger"
	"github.com/uslugihub/booking-backend/internal/payment"
	"github.com/uslugihub/booking-backend/internal/repository"
	"github.com/uslugihub/booking-backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("info")
		logger.Log.WithError(err).Fatal("не удалось загрузить конфигурацию")
	}

	logger.Init(cfg.LogLevel)
	if cfg.Env == "development" {
		logger.SetTextFormatter()
	}
	log := logger.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("не удалось подключиться к базе данных")
	}
	defer conn.Close()

	if err := db.RunMigrations(ctx, conn, cfg.MigrationsPath); err != nil {
		log.WithError(err).Fatal("не удалось применить миграции")
	}

	// Репозитории.
	bookingRepo := repository.NewBookingRepository(conn)
	escrowRepo := repository.NewEscrowRepository(conn)
	disputeRepo := repository.NewDisputeRepository(conn)
	reliabilityRepo := repository.NewReliabilityRepository(conn)
	policyRepo := repository.NewPolicyRepository(conn)
	auditRepo := repository.NewAuditRepository(conn)

	// Внешние коллабораторы.
	paymentClient := payment.NewClient(cfg.PaymentProcessorURL, cfg.CollaboratorTimeout)
	accountClient := account.NewClient(cfg.AccountServiceURL, cfg.CollaboratorTimeout)

	// Сервисы.
	escrowSvc := service.NewEscrowService(escrowRepo, paymentClient)
	reliabilitySvc := service.NewReliabilityService(reliabilityRepo, policyRepo, accountClient)
	bookingSvc := service.NewBookingService(
		bookingRepo, escrowSvc, policyRepo, reliabilitySvc, auditRepo,
		cfg.ResponseWindow, cfg.LastMinuteWindow, cfg.AutoReleaseDelay,
	)
	disputeSvc := service.NewDisputeService(disputeRepo, bookingRepo, escrowSvc, auditRepo)
	policySvc := service.NewPolicyService(policyRepo)
	tokens := service.NewTokenManager(cfg.JWTSecret)

	// Фоновые развёртки.
	scheduler := jobs.NewScheduler(bookingSvc, escrowSvc, logger.WithComponent("jobs"))
	if err := scheduler.Start(cfg); err != nil {
		log.WithError(err).Fatal("не удалось запустить планировщик")
	}
	defer scheduler.Stop()

	engine := router.New(router.Deps{
		Config:   cfg,
		Tokens:   tokens,
		Bookings: handlers.NewBookingHandler(bookingSvc, escrowSvc, logger.WithComponent("bookings")),
		Disputes: handlers.NewDisputeHandler(disputeSvc, logger.WithComponent("disputes")),
		Policies: handlers.NewPolicyHandler(policySvc, reliabilitySvc, logger.WithComponent("policies")),
		Health:   handlers.NewHealthHandler(conn),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.HTTPPort).Info("HTTP-сервер запущен")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("ошибка HTTP-сервера")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("получен сигнал остановки, завершаем работу")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("ошибка при остановке HTTP-сервера")
		os.Exit(1)
	}
}
