package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storeops/picking-service/internal/application"
	"github.com/storeops/picking-service/internal/domain"
	"github.com/storeops/picking-service/internal/infrastructure/identity"
	mongoRepo "github.com/storeops/picking-service/internal/infrastructure/mongodb"
	"github.com/storeops/picking-service/internal/infrastructure/orderapi"
	apperrors "github.com/storeops/picking-service/pkg/errors"
	"github.com/storeops/picking-service/pkg/events"
	"github.com/storeops/picking-service/pkg/kafka"
	"github.com/storeops/picking-service/pkg/logging"
	"github.com/storeops/picking-service/pkg/metrics"
	"github.com/storeops/picking-service/pkg/middleware"
	"github.com/storeops/picking-service/pkg/mongodb"
	"github.com/storeops/picking-service/pkg/outbox"
	"github.com/storeops/picking-service/pkg/resilience"
	"github.com/storeops/picking-service/pkg/schema"
	"github.com/storeops/picking-service/pkg/tracing"
)

const serviceName = "picking-service"

func main() {
	// Setup enhanced logger
	logConfig := logging.DefaultConfig(serviceName)
	logConfig.Level = logging.LogLevel(getEnv("LOG_LEVEL", "info"))
	logger := logging.New(logConfig)
	logger.SetDefault()

	logger.Info("Starting picking-service API")

	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing is optional; the service runs fine without a collector
	tracingConfig := tracing.DefaultConfig(serviceName)
	tracingConfig.OTLPEndpoint = cfg.OTLPEndpoint
	tracingConfig.Environment = cfg.Environment
	tracingConfig.Enabled = cfg.TracingEnabled
	tracerProvider, err := tracing.Initialize(ctx, tracingConfig)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize tracing, continuing without it")
	} else {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("Failed to shut down tracer provider")
			}
		}()
	}

	m := metrics.New(metrics.DefaultConfig(serviceName))

	mongoConfig := mongodb.DefaultConfig()
	mongoConfig.URI = cfg.MongoURI
	mongoConfig.Database = cfg.MongoDatabase
	mongoClient, err := mongodb.NewClient(ctx, mongoConfig)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to MongoDB")
		os.Exit(1)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := mongoClient.Close(closeCtx); err != nil {
			logger.WithError(err).Warn("Failed to close MongoDB connection")
		}
	}()
	logger.Info("Connected to MongoDB", "database", cfg.MongoDatabase)

	// Kafka producer behind the transactional outbox
	kafkaConfig := kafka.DefaultConfig()
	kafkaConfig.Brokers = cfg.KafkaBrokers
	producer := kafka.NewProducer(kafkaConfig)
	defer producer.Close()
	instrumentedProducer := kafka.NewInstrumentedProducer(producer, m, logger)

	eventFactory := events.NewFactory(events.SourcePicking)

	validator, err := schema.NewSessionValidator()
	if err != nil {
		logger.WithError(err).Error("Failed to compile session schema")
		os.Exit(1)
	}

	sessionRepo := mongoRepo.NewSessionRepository(mongoClient.Database(), eventFactory, validator)
	auditRepo := mongoRepo.NewAuditRepository(mongoClient.Database())

	// Outbox publisher drains persisted events to Kafka
	publisher := outbox.NewPublisher(sessionRepo.GetOutboxRepository(), instrumentedProducer, logger, m, &outbox.PublisherConfig{
		PollInterval: 1 * time.Second,
		BatchSize:    100,
	})
	if err := publisher.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start outbox publisher")
		os.Exit(1)
	}
	defer publisher.Stop()

	// Remote service clients, each behind its own circuit breaker
	breakers := resilience.NewCircuitBreakerRegistry(logger.Logger)
	orderClient := orderapi.NewClient(orderapi.Config{
		BaseURL: cfg.OrderServiceURL,
		APIKey:  cfg.OrderServiceAPIKey,
	}, breakers.Get("order-service"), logger)
	identityClient := identity.NewClient(identity.Config{
		BaseURL: cfg.IdentityServiceURL,
		APIKey:  cfg.IdentityServiceAPIKey,
	}, breakers.Get("identity-service"), logger)

	coordinator := application.NewFulfillmentCoordinator(orderClient, auditRepo, logger, m, cfg.FulfillmentTimeout)
	sessionService := application.NewSessionService(sessionRepo, auditRepo, identityClient, orderClient, coordinator, logger, m)
	reconciliationService := application.NewReconciliationService(sessionRepo, auditRepo, identityClient, orderClient, coordinator, logger, m)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	middlewareConfig := middleware.DefaultConfig(serviceName, logger.Logger)
	middleware.Setup(router, middlewareConfig)
	router.Use(middleware.MetricsMiddleware(m))
	router.Use(middleware.SimpleTracingMiddleware(serviceName))
	router.NoRoute(middleware.NoRoute())
	router.NoMethod(middleware.NoMethod())

	router.GET("/health", middleware.HealthCheck(serviceName))
	router.GET("/ready", middleware.ReadinessCheck(serviceName, func() error {
		checkCtx, checkCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer checkCancel()
		return mongoClient.HealthCheck(checkCtx)
	}))
	router.GET("/metrics", middleware.MetricsEndpoint(m))

	registerRoutes(router, sessionService, reconciliationService, logger)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", "addr", cfg.ServerAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	logger.Info("Server stopped")
}

func registerRoutes(
	router *gin.Engine,
	sessions *application.SessionService,
	reconciliation *application.ReconciliationService,
	logger *logging.Logger,
) {
	orders := router.Group("/api/v1/orders/:orderId")

	picking := orders.Group("/picking-session")
	{
		picking.POST("", func(c *gin.Context) {
			responder := middleware.NewErrorResponder(c, logger.Logger)

			var req struct {
				UserID         string `json:"userId" binding:"required"`
				OrderDisplayID string `json:"orderDisplayId"`
				Items          []struct {
					LineItemID string `json:"lineItemId" binding:"required"`
					VariantID  string `json:"variantId"`
					SKU        string `json:"sku" binding:"omitempty,sku"`
					Barcode    string `json:"barcode" binding:"omitempty,barcode"`
					Title      string `json:"title"`
					Quantity   int    `json:"quantity" binding:"required,min=1"`
				} `json:"items"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				responder.RespondWithAppError(apperrors.ErrValidation(err.Error()))
				return
			}

			middleware.AddSpanAttributes(c, map[string]interface{}{
				"order.id": c.Param("orderId"),
				"user.id":  req.UserID,
			})

			lines := make([]domain.OrderLine, 0, len(req.Items))
			for _, item := range req.Items {
				lines = append(lines, domain.OrderLine{
					LineItemID: item.LineItemID,
					VariantID:  item.VariantID,
					SKU:        item.SKU,
					Barcode:    item.Barcode,
					Title:      item.Title,
					Quantity:   item.Quantity,
				})
			}

			result, err := sessions.StartSession(c.Request.Context(), application.StartSessionCommand{
				OrderID:        c.Param("orderId"),
				OrderDisplayID: req.OrderDisplayID,
				UserID:         req.UserID,
				Items:          lines,
			})
			if err != nil {
				respondError(responder, err)
				return
			}

			status := http.StatusOK
			if result.Created {
				status = http.StatusCreated
			}
			c.JSON(status, result)
		})

		picking.GET("", func(c *gin.Context) {
			responder := middleware.NewErrorResponder(c, logger.Logger)

			includeCompleted, _ := strconv.ParseBool(c.Query("includeCompleted"))
			session, err := sessions.GetSession(c.Request.Context(), application.GetSessionQuery{
				OrderID:          c.Param("orderId"),
				IncludeCompleted: includeCompleted,
			})
			if err != nil {
				respondError(responder, err)
				return
			}
			c.JSON(http.StatusOK, session)
		})

		picking.POST("/pick", func(c *gin.Context) {
			responder := middleware.NewErrorResponder(c, logger.Logger)

			var req struct {
				LineItemID string `json:"lineItemId"`
				Barcode    string `json:"barcode" binding:"omitempty,barcode"`
				Method     string `json:"method" binding:"omitempty,scan_method"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				responder.RespondWithAppError(apperrors.ErrValidation(err.Error()))
				return
			}
			if req.LineItemID == "" && req.Barcode == "" {
				responder.RespondWithAppError(apperrors.ErrValidation("lineItemId or barcode is required"))
				return
			}

			middleware.AddSpanAttributes(c, map[string]interface{}{
				"order.id":     c.Param("orderId"),
				"line_item.id": req.LineItemID,
			})

			result, err := sessions.PickItem(c.Request.Context(), application.PickItemCommand{
				OrderID:    c.Param("orderId"),
				LineItemID: req.LineItemID,
				Barcode:    req.Barcode,
				Method:     req.Method,
			})
			if err != nil {
				respondError(responder, err)
				return
			}
			c.JSON(http.StatusOK, result)
		})

		picking.POST("/unpick", func(c *gin.Context) {
			responder := middleware.NewErrorResponder(c, logger.Logger)

			var req struct {
				LineItemID string `json:"lineItemId" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				responder.RespondWithAppError(apperrors.ErrValidation(err.Error()))
				return
			}

			result, err := sessions.UnpickItem(c.Request.Context(), application.UnpickItemCommand{
				OrderID:    c.Param("orderId"),
				LineItemID: req.LineItemID,
			})
			if err != nil {
				respondError(responder, err)
				return
			}
			c.JSON(http.StatusOK, result)
		})

		picking.POST("/missing", func(c *gin.Context) {
			responder := middleware.NewErrorResponder(c, logger.Logger)

			var req struct {
				LineItemID string `json:"lineItemId" binding:"required"`
				Quantity   *int   `json:"quantity" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				responder.RespondWithAppError(apperrors.ErrValidation(err.Error()))
				return
			}

			result, err := sessions.MarkMissing(c.Request.Context(), application.MarkMissingCommand{
				OrderID:    c.Param("orderId"),
				LineItemID: req.LineItemID,
				Quantity:   *req.Quantity,
			})
			if err != nil {
				respondError(responder, err)
				return
			}
			c.JSON(http.StatusOK, result)
		})

		picking.POST("/complete", func(c *gin.Context) {
			responder := middleware.NewErrorResponder(c, logger.Logger)

			var req struct {
				UserID string `json:"userId"`
			}
			if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
				responder.RespondWithAppError(apperrors.ErrValidation(err.Error()))
				return
			}

			middleware.AddSpanAttributes(c, map[string]interface{}{
				"order.id": c.Param("orderId"),
			})

			result, err := sessions.CompleteSession(c.Request.Context(), application.CompleteSessionCommand{
				OrderID: c.Param("orderId"),
				UserID:  req.UserID,
			})
			if err != nil {
				respondError(responder, err)
				return
			}
			c.JSON(http.StatusOK, result)
		})

		picking.POST("/cancel", func(c *gin.Context) {
			responder := middleware.NewErrorResponder(c, logger.Logger)

			var req struct {
				Reason string `json:"reason" binding:"required,safe_string"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				responder.RespondWithAppError(apperrors.ErrValidation(err.Error()))
				return
			}

			result, err := sessions.CancelSession(c.Request.Context(), application.CancelSessionCommand{
				OrderID: c.Param("orderId"),
				Reason:  req.Reason,
			})
			if err != nil {
				respondError(responder, err)
				return
			}
			c.JSON(http.StatusOK, result)
		})

		picking.POST("/pack", func(c *gin.Context) {
			responder := middleware.NewErrorResponder(c, logger.Logger)

			var req struct {
				UserID string `json:"userId"`
			}
			if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
				responder.RespondWithAppError(apperrors.ErrValidation(err.Error()))
				return
			}

			result, err := sessions.PackSession(c.Request.Context(), application.PackSessionCommand{
				OrderID: c.Param("orderId"),
				UserID:  req.UserID,
			})
			if err != nil {
				respondError(responder, err)
				return
			}
			c.JSON(http.StatusOK, result)
		})
	}

	faltante := orders.Group("/faltante")
	{
		faltante.POST("/resolve", func(c *gin.Context) {
			responder := middleware.NewErrorResponder(c, logger.Logger)

			var req struct {
				Resolution string `json:"resolution" binding:"required,resolution"`
				Notes      string `json:"notes" binding:"omitempty,safe_string"`
				UserID     string `json:"userId"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				responder.RespondWithAppError(apperrors.ErrValidation(err.Error()))
				return
			}

			middleware.AddSpanAttributes(c, map[string]interface{}{
				"order.id":            c.Param("orderId"),
				"faltante.resolution": req.Resolution,
			})

			result, err := reconciliation.ResolveFaltante(c.Request.Context(), application.ResolveFaltanteCommand{
				OrderID:    c.Param("orderId"),
				Resolution: req.Resolution,
				Notes:      req.Notes,
				UserID:     req.UserID,
			})
			if err != nil {
				respondError(responder, err)
				return
			}
			c.JSON(http.StatusOK, result)
		})

		faltante.POST("/voucher", func(c *gin.Context) {
			responder := middleware.NewErrorResponder(c, logger.Logger)

			var req struct {
				Value  float64 `json:"value" binding:"required,gt=0"`
				Notes  string  `json:"notes" binding:"omitempty,safe_string"`
				UserID string  `json:"userId"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				responder.RespondWithAppError(apperrors.ErrValidation(err.Error()))
				return
			}

			middleware.AddSpanAttributes(c, map[string]interface{}{
				"order.id":      c.Param("orderId"),
				"voucher.value": req.Value,
			})

			result, err := reconciliation.IssueVoucher(c.Request.Context(), application.IssueVoucherCommand{
				OrderID: c.Param("orderId"),
				Value:   req.Value,
				Notes:   req.Notes,
				UserID:  req.UserID,
			})
			if err != nil {
				respondError(responder, err)
				return
			}
			c.JSON(http.StatusOK, result)
		})

		faltante.GET("/receive", func(c *gin.Context) {
			responder := middleware.NewErrorResponder(c, logger.Logger)

			result, err := reconciliation.GetReceivable(c.Request.Context(), application.GetReceivableQuery{
				OrderID: c.Param("orderId"),
			})
			if err != nil {
				respondError(responder, err)
				return
			}
			c.JSON(http.StatusOK, result)
		})

		faltante.POST("/receive", func(c *gin.Context) {
			responder := middleware.NewErrorResponder(c, logger.Logger)

			var req struct {
				LineItemID string `json:"lineItemId"`
				Barcode    string `json:"barcode" binding:"omitempty,barcode"`
				SKU        string `json:"sku" binding:"omitempty,sku"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				responder.RespondWithAppError(apperrors.ErrValidation(err.Error()))
				return
			}
			if req.LineItemID == "" && req.Barcode == "" && req.SKU == "" {
				responder.RespondWithAppError(apperrors.ErrValidation("lineItemId, barcode or sku is required"))
				return
			}

			middleware.AddSpanAttributes(c, map[string]interface{}{
				"order.id": c.Param("orderId"),
			})

			result, err := reconciliation.ReceiveItem(c.Request.Context(), application.ReceiveItemCommand{
				OrderID:    c.Param("orderId"),
				LineItemID: req.LineItemID,
				Barcode:    req.Barcode,
				SKU:        req.SKU,
			})
			if err != nil {
				respondError(responder, err)
				return
			}
			c.JSON(http.StatusOK, result)
		})
	}
}

func respondError(responder *middleware.ErrorResponder, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		responder.RespondWithAppError(appErr)
		return
	}
	responder.RespondInternalError(err)
}

// Config holds the service configuration, loaded from environment variables
type Config struct {
	ServerAddr  string
	Environment string

	MongoURI      string
	MongoDatabase string

	KafkaBrokers []string

	OrderServiceURL       string
	OrderServiceAPIKey    string
	IdentityServiceURL    string
	IdentityServiceAPIKey string
	FulfillmentTimeout    time.Duration

	OTLPEndpoint   string
	TracingEnabled bool
}

func loadConfig() *Config {
	return &Config{
		ServerAddr:  getEnv("SERVER_ADDR", ":8004"),
		Environment: getEnv("ENVIRONMENT", "development"),

		MongoURI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGODB_DATABASE", "picking_db"),

		KafkaBrokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),

		OrderServiceURL:       getEnv("ORDER_SERVICE_URL", "http://localhost:8001"),
		OrderServiceAPIKey:    getEnv("ORDER_SERVICE_API_KEY", ""),
		IdentityServiceURL:    getEnv("IDENTITY_SERVICE_URL", "http://localhost:8002"),
		IdentityServiceAPIKey: getEnv("IDENTITY_SERVICE_API_KEY", ""),
		FulfillmentTimeout:    getDurationEnv("FULFILLMENT_TIMEOUT", 10*time.Second),

		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled: getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
