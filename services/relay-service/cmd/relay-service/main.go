package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/consultrelay/libs/auth"
	"github.com/md-rashed-zaman/consultrelay/libs/config"
	"github.com/md-rashed-zaman/consultrelay/libs/db"
	"github.com/md-rashed-zaman/consultrelay/libs/httpx"
	"github.com/md-rashed-zaman/consultrelay/libs/kafkax"
	otelx "github.com/md-rashed-zaman/consultrelay/libs/otel"
	"github.com/md-rashed-zaman/consultrelay/libs/runtime"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/consumer"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/dispatch"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/event"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/handlers"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/ingest"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/push"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/receipts"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/registry"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/storage"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/tokens"
	"github.com/md-rashed-zaman/consultrelay/services/relay-service/internal/ws"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "relay-service")
	port, err := config.Port("PORT", "8086")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}
	redisAddr, err := config.RequiredString("REDIS_ADDR")
	if err != nil {
		panic(err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	tokenStore := tokens.NewRedisStore(rdb, config.String("PUSH_TOKEN_PREFIX", "push:token"), 0)

	var deliveries *storage.Repository
	var pool *db.Pool
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err = db.Open(ctx, dbURL)
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		deliveries = storage.NewRepository(pool)
	} else {
		logger.Warn("delivery log disabled (no DATABASE_URL configured)")
	}

	var pushSender push.Sender
	switch strings.ToLower(config.String("PUSH_PROVIDER", "fcm")) {
	case "noop":
		pushSender = push.NewNoopSender()
	default:
		pushSender = push.NewFCMSender(
			config.String("FCM_SERVER_KEY", ""),
			config.String("FCM_ENDPOINT", ""),
		)
	}

	reg := registry.New()

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	var receiptProducer *receipts.Producer
	if kafkaBrokers != "" {
		receiptProducer = receipts.NewProducer(logger, kafkaBrokers,
			config.String("KAFKA_RECEIPTS_TOPIC", "relay.deliveries.v1"))
		defer receiptProducer.Close()
	}

	dispatcher := dispatch.New(logger, reg, tokenStore, pushSender, deliveries, dispatch.Config{
		SendTimeout: 5 * time.Second,
		Receipts:    receiptProducer,
	})
	ingestor := ingest.New(logger, dispatcher)

	if kafkaBrokers != "" {
		consumerCfg := consumer.Config{
			Brokers: kafkaBrokers,
			GroupID: config.String("KAFKA_GROUP_ID", "relay-service"),
			Topic:   config.String("KAFKA_CONSUME_TOPIC", "consultation.events.v1"),
		}
		eventConsumer := consumer.New(logger, consumerCfg, func(ctx context.Context, msg kafka.Message) error {
			var ev event.Event
			if err := json.Unmarshal(msg.Value, &ev); err != nil {
				logger.Error("invalid event payload", "err", err)
				return nil
			}
			ingestor.Ingest(ctx, ev)
			return nil
		})
		go eventConsumer.Run(ctx)
	} else {
		logger.Warn("kafka consumer disabled (no KAFKA_BROKERS configured)")
	}

	var jwksClient *auth.JWKSClient
	if jwksURL := config.String("JWKS_URL", ""); jwksURL != "" {
		jwksClient = auth.NewJWKSClient(jwksURL, 5*time.Minute)
	}
	wsServer := ws.NewServer(logger, reg, ws.Config{
		JWTSecret: jwtSecret,
		JWKS:      jwksClient,
	})

	h := handlers.New(logger, ingestor, tokenStore, handlers.Config{
		JWTSecret:           jwtSecret,
		InternalAPIKeyHash:  config.String("INTERNAL_API_KEY_HASH", ""),
		StripeWebhookSecret: config.String("STRIPE_WEBHOOK_SECRET", ""),
	})

	readyChecks := []runtime.ReadyCheck{
		{Name: "redis", Check: tokens.ReadyCheck(rdb)},
	}
	if pool != nil {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	}
	if kafkaBrokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	internalLimiter := httpx.NewRateLimiter(60, time.Minute)
	mux.Handle("/internal/events", internalLimiter.Middleware()(http.HandlerFunc(h.InjectEvent)))
	mux.HandleFunc("/v1/devices/token", h.DeviceToken)
	mux.HandleFunc("/webhooks/stripe", h.StripeWebhook)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: splitList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		}),
		httpx.WithBodyLimit(1<<20),
	)
	handler = otelhttp.NewHandler(handler, "relay")

	limiter := httpx.NewRedisRateLimiter(rdb, 30, time.Minute, "relay:ws")

	// WebSocket upgrades bypass the access-log middleware: the wrapped
	// ResponseWriter does not implement http.Hijacker.
	root := http.NewServeMux()
	root.Handle("/ws", limiter.Middleware(logger, true)(wsServer))
	root.Handle("/", handler)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped", "open_connections", reg.Size())
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
