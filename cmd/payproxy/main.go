package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuelReschke/PayProxy/app/controllers"
	"github.com/ManuelReschke/PayProxy/internal/pkg/cache"
	"github.com/ManuelReschke/PayProxy/internal/pkg/codec"
	"github.com/ManuelReschke/PayProxy/internal/pkg/config"
	"github.com/ManuelReschke/PayProxy/internal/pkg/database"
	"github.com/ManuelReschke/PayProxy/internal/pkg/env"
	"github.com/ManuelReschke/PayProxy/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayProxy/internal/pkg/mail"
	"github.com/ManuelReschke/PayProxy/internal/pkg/metrics"
	"github.com/ManuelReschke/PayProxy/internal/pkg/payments"
	"github.com/ManuelReschke/PayProxy/internal/pkg/ratelimit"
	"github.com/ManuelReschke/PayProxy/internal/pkg/router"
	"github.com/ManuelReschke/PayProxy/internal/pkg/s3backup"
	"github.com/ManuelReschke/PayProxy/internal/pkg/transmission"
	"github.com/ManuelReschke/PayProxy/views"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const statsInterval = 30 * time.Second

func main() {
	if err := env.SetupEnvFile(); err != nil {
		log.Warnf("[Main] %v, using the process environment", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Main] Invalid configuration: %v", err)
	}

	if err := database.SetupDatabase(cfg.Database, cfg.App.Env); err != nil {
		log.Fatalf("[Main] Database setup failed: %v", err)
	}
	cache.SetupCache(cfg.Cache)

	ring, err := cfg.KeyRing()
	if err != nil {
		log.Fatalf("[Main] Storage keys: %v", err)
	}
	log.Infof("[Main] Storage keys loaded: active %d, known %v", ring.Active().ID, ring.IDs())
	platformCodec, err := cfg.PlatformCodec()
	if err != nil {
		log.Fatalf("[Main] Platform keys: %v", err)
	}
	signer, err := cfg.Signer()
	if err != nil {
		log.Fatalf("[Main] Processor signing key: %v", err)
	}
	opts, err := cfg.PaymentsOptions(signer, codec.NewStorageCodec(ring))
	if err != nil {
		log.Fatalf("[Main] Payments options: %v", err)
	}
	svc, err := payments.NewService(payments.NewRepository(database.GetDB()), opts)
	if err != nil {
		log.Fatalf("[Main] Payments service: %v", err)
	}
	validator := transmission.NewValidator(platformCodec, signer, cfg.Platform.TimestampMaxAge)

	recorder := metrics.Default()
	mailer := mail.NewSMTPMailer(cfg.Mail)
	queue := jobqueue.NewQueue(cache.GetClient(), cfg.Jobs.Workers).WithRecorder(recorder)
	queue.Handle(jobqueue.JobTypeAdminEmail, jobqueue.AdminEmailHandler(mailer, mailer.AdminRecipients()))

	archive, err := s3backup.NewClient(context.Background(), &cfg.Archive)
	switch {
	case errors.Is(err, s3backup.ErrDisabled):
		log.Info("[Main] Response archive disabled")
	case err != nil:
		log.Fatalf("[Main] Response archive: %v", err)
	default:
		queue.Handle(jobqueue.JobTypeArchiveResponse, jobqueue.ArchiveResponseHandler(archive))
	}

	manager := jobqueue.NewManager(queue, recorder, statsInterval)
	manager.Start()

	app := fiber.New(fiber.Config{
		AppName:      "payproxy",
		Views:        views.NewEngine(),
		ReadTimeout:  cfg.App.ReadTimeout,
		WriteTimeout: cfg.App.WriteTimeout,
	})
	app.Use(recover.New())
	app.Use(logger.New())

	router.InstallRouter(app, router.Options{
		Controllers: controllers.Dependencies{
			Payments:      svc,
			Transmissions: validator,
			Platform:      platformCodec,
			Jobs:          queue,
			Metrics:       recorder,
			Links: mail.AdminLinks{
				PermaURL:             cfg.Platform.URL,
				IndividualDetailPath: cfg.Platform.IndividualDetailPath,
				RegistrarDetailPath:  cfg.Platform.RegistrarDetailPath,
				RegistrarUsersPath:   cfg.Platform.RegistrarUsersPath,
			},
			CanceledRedirectURL: cfg.Platform.CanceledRedirectURL,
			ArchiveEnabled:      archive != nil,
			HandlerTimeout:      cfg.App.HandlerTimeout,
		},
		Queue:          queue,
		Admin:          cfg.Admin,
		RateLimit:      cfg.RateLimit,
		LimiterStorage: ratelimit.NewStorage(cfg.Cache),
		Health: map[string]controllers.HealthCheck{
			"database": database.Ping,
			"redis":    cache.Ping,
		},
		Metrics: recorder.Handler(),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			log.Fatalf("[Main] Server stopped: %v", err)
		}
	}()
	log.Infof("[Main] Listening on %s (%s mode)", cfg.App.Addr(), cfg.Processor.Mode)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("[Main] Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Errorf("[Main] Server shutdown: %v", err)
	}
	manager.Stop()
}
