package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-sync/internal/api"
	"chat-sync/internal/cache"
	"chat-sync/internal/config"
	"chat-sync/internal/engine"
	"chat-sync/internal/handlers"
	"chat-sync/internal/observability"
	"chat-sync/internal/realtime"
	"chat-sync/internal/retry"
)

func main() {
	cfg := config.Load()
	if cfg.UserID == "" {
		log.Fatal("USER_ID must be set")
	}

	ctx := context.Background()
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPAddr, "chat-sync", cfg.Environment)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}

	publisher := observability.NewPublisher(cfg.AMQPURL, "sync_events")
	observability.SetPublisher(publisher)

	policy := retry.Policy{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.BaseDelay, MaxDelay: cfg.MaxDelay}
	backend := api.NewClient(cfg.BackendURL, cfg.AuthToken, policy)

	channelCfg := realtime.DefaultConfig(cfg.WSURL, cfg.AuthToken)
	channelCfg.Backoff = retry.Policy{BaseDelay: cfg.BaseDelay, MaxDelay: cfg.MaxDelay}
	channel := realtime.NewClient(channelCfg)

	store := cache.New(cache.TTLConfig{
		cache.KindChats:    cfg.ChatsTTL,
		cache.KindMessages: cfg.MessagesTTL,
		cache.KindUsers:    cfg.UsersTTL,
	})

	eng := engine.New(engine.DefaultConfig(cfg.UserID, cfg.UserName), backend, channel, store)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chat-sync"))
	router.Use(observability.HTTPMetricsMiddleware())

	handlers.NewSyncHandler(eng).Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connection": eng.ConnectionState()})
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		log.Printf("chat-sync listening port=%s backend=%s", cfg.Port, cfg.BackendURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	if err := eng.Close(); err != nil {
		log.Printf("engine close: %v", err)
	}
	if err := publisher.Close(); err != nil {
		log.Printf("amqp close: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracing shutdown: %v", err)
	}
}
