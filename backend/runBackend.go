package backend

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/terraconnect/terra-connect/backend/config"
	"github.com/terraconnect/terra-connect/backend/queue"
	"github.com/terraconnect/terra-connect/backend/server"
	apihandlers "github.com/terraconnect/terra-connect/backend/server/handlers"
	"github.com/terraconnect/terra-connect/backend/server/middleware"
	"github.com/terraconnect/terra-connect/backend/storage/cache"
	storage "github.com/terraconnect/terra-connect/backend/storage/persistent"
)

const shutdownTimeout = 30 * time.Second

// RunBackend is the main function that sets up and runs the backend server.
func RunBackend(envPath string) {
	cfg, err := config.Load(envPath)
	if err != nil {
		log.Fatal("error loading configuration: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStorage(cfg.DBName, cfg.MongoURI)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := store.Disconnect(); err != nil {
			log.Printf("error disconnecting from MongoDB: %v", err)
		}
	}()

	var opts []apihandlers.Option

	// The activity pipeline runs only when both the broker and the cache are configured.
	if cfg.ActivitiesEnabled() {
		activityCache, err := cache.NewCache(cfg.RedisURL)
		if err != nil {
			log.Fatal(err)
		}
		defer activityCache.Disconnect()

		activityQueue, err := queue.BuildActivityQueue(cfg.RabbitMQURL, cfg.ActivityProducers, cfg.ActivityConsumers, activityCache, store)
		if err != nil {
			log.Fatal(err)
		}
		consumers := activityQueue.StartConsumers(ctx)
		defer func() {
			if err := activityQueue.Close(); err != nil {
				log.Printf("error closing activity queue: %v", err)
			}
			consumers.Wait()
		}()

		opts = append(opts, apihandlers.WithPublisher(activityQueue))
	} else {
		log.Println("REDIS_URL or RABBITMQ_URL not set, activity feed disabled")
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.TrustProxy)
	go limiter.Cleanup(ctx)

	router := server.NewRouter(apihandlers.New(store, opts...), server.Options{
		RateLimiter: limiter,
		MetricsUser: cfg.MetricsUser,
		MetricsPass: cfg.MetricsPass,
	})
	srv := server.New(cfg.Addr(), router)

	go func() {
		log.Printf("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during server shutdown: %v", err)
	}
}
