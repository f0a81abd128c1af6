package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"commerce-engine/config"
	"commerce-engine/internal/api"
	"commerce-engine/internal/broker"
	"commerce-engine/internal/domain"
	"commerce-engine/internal/gateway"
	"commerce-engine/internal/redisclient"
	"commerce-engine/internal/service"
	"commerce-engine/internal/session"
	"commerce-engine/internal/store"
	"commerce-engine/internal/util"
	"commerce-engine/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting commerce engine", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer("commerce-engine", cfg.Observ.JaegerEndpoint, cfg.Observ.TraceSampleRatio)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	cartPolicy := domain.CartPolicy{
		UserHorizon:    time.Duration(cfg.Business.UserCartDays) * 24 * time.Hour,
		SessionHorizon: time.Duration(cfg.Business.SessionCartHours) * time.Hour,
	}
	shipping, err := decimal.NewFromString(cfg.Business.DefaultShippingFee)
	if err != nil {
		log.Fatalf("Invalid DEFAULT_SHIPPING_FEE %q: %v", cfg.Business.DefaultShippingFee, err)
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetCartPolicy(cartPolicy)
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	orderProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer orderProducer.Close()
	paymentProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayment)
	defer paymentProducer.Close()
	logger.Info("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(orderProducer)
	callbackRelay := broker.NewEventPublisher(paymentProducer)

	var paymentGateway gateway.Gateway
	switch cfg.Payment.Provider {
	case "fake":
		paymentGateway = gateway.NewFake(cfg.Payment.WebhookSecret)
	default:
		if cfg.Payment.WebhookSecret == "" {
			logger.Warn("STRIPE_WEBHOOK_SECRET is empty, webhook signatures are not checked")
		}
		paymentGateway = gateway.NewStripe(cfg.Payment.SecretKey, cfg.Payment.WebhookSecret)
	}

	clock := domain.SystemClock()

	inventoryService := service.NewInventoryService(db, redisClient, eventPublisher, clock, cfg.Business.LowStockThreshold)
	cartService := service.NewCartService(db, db, redisClient, redisClient, clock, cartPolicy, cfg.Business.CheckoutLockTTL)
	orderService := service.NewOrderService(db, db, db, db, cartService, inventoryService,
		db.OrderNumbers(cfg.Business.OrderNumberPrefix, cfg.Business.OrderNumberWidth),
		redisClient, eventPublisher, clock,
		service.OrderSettings{
			Currency:        cfg.Business.Currency,
			DefaultShipping: shipping,
			LockTTL:         cfg.Business.CheckoutLockTTL,
			IdempotencyTTL:  cfg.Business.IdempotencyKeyTTL,
		})
	paymentService := service.NewPaymentService(db, orderService, paymentGateway, eventPublisher, clock)
	settlement := service.NewSettlementOrchestrator(db, paymentService)

	ctx := context.Background()
	if err := inventoryService.SyncInventoryToRedis(ctx); err != nil {
		logger.Error("Failed to sync inventory to Redis", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	settlementConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayment, cfg.Kafka.ConsumerGroup)
	settlementWorker := worker.NewSettlementWorker(settlementConsumer, settlement)
	go func() {
		if err := settlementWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Settlement worker error", zap.Error(err))
		}
	}()

	cartSweeper := worker.NewCartSweeper(cartService, cfg.Business.CartSweepInterval, cfg.Business.CartSweepBatch)
	go func() {
		if err := cartSweeper.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Cart sweeper error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Inventory: inventoryService,
		Carts:     cartService,
		Orders:    orderService,
		Payments:  paymentService,
		Relay:     callbackRelay,
		Sessions:  session.NewResolver(cfg.Session.Secret, cfg.Session.CookieName, cfg.Session.MaxAge, cfg.Session.Secure),
		Checks: map[string]api.ReadinessCheck{
			"postgres": db.Ping,
			"redis":    redisClient.Ping,
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := settlementWorker.Stop(); err != nil {
		logger.Error("Failed to stop settlement worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
