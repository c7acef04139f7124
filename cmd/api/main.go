package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/smart-doctor/internal/app"
	"github.com/suPer8Hu/smart-doctor/internal/config"
	"github.com/suPer8Hu/smart-doctor/internal/diagnosis"
	"github.com/suPer8Hu/smart-doctor/internal/httpapi"
	"github.com/suPer8Hu/smart-doctor/internal/httpapi/handlers"
	"github.com/suPer8Hu/smart-doctor/internal/httpapi/middleware"
	"github.com/suPer8Hu/smart-doctor/internal/store/memstore"
	"github.com/suPer8Hu/smart-doctor/internal/store/rabbitmq"
	"github.com/suPer8Hu/smart-doctor/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcs, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer svcs.Close()

	// Redis is optional; fall back to process memory
	var cache handlers.ReplyCache
	var limiter middleware.Counter
	if cfg.RedisAddr != "" {
		rds, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rds.Close()
		cache, limiter = rds, rds
	} else {
		mem := memstore.New()
		cache, limiter = mem, mem
	}

	var publisher handlers.JobPublisher
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatalf("rabbit: %v", err)
		}
		defer pub.Close()
		publisher = pub
	} else {
		log.Printf("RABBIT_URL not set, async completion jobs disabled")
	}

	diag := diagnosis.NewClient(map[diagnosis.Organ]string{
		diagnosis.Skin:  cfg.SkinPredictURL,
		diagnosis.Eye:   cfg.EyePredictURL,
		diagnosis.Blood: cfg.BloodPredictURL,
		diagnosis.Brain: cfg.BrainPredictURL,
	})

	h := handlers.NewHandler(cfg, svcs.Chat, cache, publisher, diag)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("api listening on %s policy=%s", cfg.HTTPAddr, h.Policy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("api shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
