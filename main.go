package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"greendrake/referral/internal/api"
	"greendrake/referral/internal/cache"
	"greendrake/referral/internal/config"
	"greendrake/referral/internal/db"
	"greendrake/referral/internal/email"
	"greendrake/referral/internal/events"
	"greendrake/referral/internal/metrics"
	"greendrake/referral/internal/payment"
	"greendrake/referral/internal/services"
	"greendrake/referral/internal/storage"
	"greendrake/referral/internal/tasks"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (task workers and expiration sweep), 'all' (default)")

const sweepLockKey = "referral:lock:expiration-sweep"

func main() {
	flag.Parse()

	cfg, err := config.Load(*runMode)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Cancelled on shutdown; stops the sweep ticker, config listener and rate limiter cleanup.
	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	indexCtx, cancelIndex := context.WithTimeout(appCtx, 30*time.Second)
	if err := services.EnsureIndexes(indexCtx, mongoDb); err != nil {
		log.Fatalf("Failed to ensure indexes: %v", err)
	}
	cancelIndex()

	redisClient, err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient); err != nil {
			log.Printf("Error disconnecting from Redis: %v", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(registry)

	// Email senders
	var primaryEmailSender email.Sender
	if os.Getenv("MOCK_SERVICES") == "true" {
		log.Println("MOCK_SERVICES enabled: Using Redis email sender.")
		primaryEmailSender = email.NewRedisSender(redisClient, cfg)
	} else {
		primaryEmailSender = email.NewSMTPSender(cfg)
	}
	compositeSender := email.NewCompositeEmailSender(primaryEmailSender)
	if logEmailsPath := os.Getenv("LOG_EMAILS"); logEmailsPath != "" {
		log.Printf("LOG_EMAILS set to '%s', enabling file email logger.", logEmailsPath)
		fileSender, err := email.NewFileEmailSender(logEmailsPath)
		if err != nil {
			log.Printf("WARN: Failed to initialize file email sender (LOG_EMAILS='%s'): %v. Proceeding without file logging.", logEmailsPath, err)
		} else {
			compositeSender.AddSender(fileSender)
		}
	}

	// Services
	configSvc := services.NewConfigService(mongoDb, cfg, redisClient)
	userService := services.NewUserService(mongoDb)
	preMarketService := services.NewPreMarketRequestService(mongoDb)
	grantService := services.NewGrantAccessRequestService(mongoDb)
	noticeService := services.NewNoticeService(mongoDb)
	adminLogService := services.NewAdminActionLogService(mongoDb)
	emailTemplateService := services.NewEmailTemplateService(mongoDb)

	taskClient := tasks.NewClient(redisClient)
	defer taskClient.Close()
	emitter := events.NewAsynqEmitter(taskClient, cfg.NotificationMaxRetries, cfg.NotificationTimeout)

	var publisher events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		log.Printf("Publishing domain events to Kafka topic %s", cfg.KafkaEventsTopic)
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		defer publisher.Close()
	}

	workflow := services.NewGrantAccessWorkflowService(
		preMarketService,
		grantService,
		adminLogService,
		payment.NewStripeGateway(cfg),
		emitter,
		services.NewDynamicWorkflowSettings(configSvc, services.StaticWorkflowSettings{
			MaxFailures: cfg.MaxPaymentFailures,
			Currency:    cfg.PaymentCurrency,
		}),
		appMetrics,
	)

	archive, err := storage.NewS3Archive(appCtx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize S3 archive: %v", err)
	}
	sweepOpts := tasks.SweeperOptions{
		Archive: archive,
		Metrics: appMetrics,
		RetireAfter: func(ctx context.Context) time.Duration {
			days := configSvc.GetInt(ctx, "SWEEP_RETIRE_AFTER_DAYS", int(cfg.SweepRetireAfter/(24*time.Hour)))
			return time.Duration(days) * 24 * time.Hour
		},
	}
	if cfg.SweepDistributedLock {
		sweepOpts.Lock = cache.NewLock(redisClient, sweepLockKey, cfg.SweepLockTTL)
	}
	sweeper := tasks.NewExpirationSweeper(preMarketService, emitter, sweepOpts)

	taskProcessor := tasks.NewTaskProcessor(cfg, compositeSender, emailTemplateService, userService, noticeService, configSvc, publisher, taskClient, appMetrics)

	go func() {
		if err := configSvc.SubscribeToChanges(appCtx); err != nil {
			log.Printf("ERROR config change listener: %v", err)
		}
	}()

	var wg sync.WaitGroup
	shutdownChan := make(chan struct{}, 1)

	// Service API always runs
	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: api.SetupServiceRouter(redisClient, sweeper, registry, shutdownChan),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		fmt.Printf("Service API listening on :%s\n", cfg.ServiceApiPort)
		if err := serviceSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Service API ListenAndServe error: %v", err)
		}
		fmt.Println("Service API server stopped.")
	}()

	var mainApiSrv *http.Server
	var backgroundTaskSrv *asynq.Server

	fmt.Printf("Starting application in '%s' mode...\n", cfg.RunMode)

	apiMode := func() {
		fmt.Println("Starting main API server...")
		mainApiSrv = &http.Server{
			Addr: ":" + cfg.ApiPort,
			Handler: api.SetupRouter(appCtx, cfg, api.Services{
				Users:     userService,
				PreMarket: preMarketService,
				Workflow:  workflow,
				Notices:   noticeService,
				AdminLog:  adminLogService,
				Config:    configSvc,
				Sweeper:   sweeper,
			}),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fmt.Printf("Main API listening on :%s\n", cfg.ApiPort)
			if err := mainApiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Main API ListenAndServe error: %v", err)
			}
			fmt.Println("Main API server stopped.")
		}()
	}

	bgMode := func() {
		fmt.Println("Starting background worker...")
		srv, mux := tasks.SetupServer(redisClient, taskProcessor)
		if err := srv.Start(mux); err != nil {
			log.Fatalf("Background task server error: %v", err)
		}
		backgroundTaskSrv = srv

		wg.Add(1)
		go func() {
			defer wg.Done()
			sweeper.Start(appCtx, cfg.SweepInterval, cfg.SweepStartImmediately)
		}()
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "bg":
		bgMode()
	case "all":
		apiMode()
		bgMode()
	default:
		log.Fatalf("Invalid run mode specified in config: %s.", cfg.RunMode)
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		fmt.Printf("\nReceived signal: %s. Shutting down gracefully...\n", sig)
	case <-shutdownChan:
		fmt.Println("\nShutdown requested via Service API. Shutting down gracefully...")
	}

	cancelApp()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	fmt.Println("Shutting down Service API server...")
	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		log.Printf("Service API server shutdown error: %v", err)
	}

	if mainApiSrv != nil {
		fmt.Println("Shutting down Main API server...")
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			log.Printf("Main API server shutdown error: %v", err)
		}
	}

	if backgroundTaskSrv != nil {
		fmt.Println("Shutting down Background Task server...")
		backgroundTaskSrv.Shutdown()
	}

	fmt.Println("Waiting for servers to stop...")
	wg.Wait()

	fmt.Println("Server gracefully stopped")
}
