package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/smart-doctor/internal/app"
	"github.com/suPer8Hu/smart-doctor/internal/config"
	"github.com/suPer8Hu/smart-doctor/internal/store/rabbitmq"
	"github.com/suPer8Hu/smart-doctor/internal/worker"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()
	if cfg.RabbitURL == "" {
		log.Fatalf("RABBIT_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcs, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer svcs.Close()

	// retention purge
	retention := time.Duration(cfg.RetentionHours) * time.Hour
	sched, err := worker.NewRetentionCron(cfg.RetentionCron, svcs.Chat, retention)
	if err != nil {
		log.Fatalf("cron %q: %v", cfg.RetentionCron, err)
	}
	sched.Start()
	defer sched.Stop()

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit publisher: %v", err)
	}
	defer pub.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	//  strict concurrency control
	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	deliveries := make(chan worker.Delivery)
	go func() {
		defer close(deliveries)
		for d := range msgs {
			select {
			case deliveries <- toDelivery(ctx, pub, d):
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return
			}
		}
	}()

	pool := &worker.Pool{
		Concurrency: concurrency,
		MaxAttempts: 3,
		RetryDelay:  5 * time.Second,
		Handle:      svcs.Chat.RunJob,
	}
	pool.Run(ctx, deliveries)
}

func toDelivery(ctx context.Context, pub *rabbitmq.Publisher, d amqp.Delivery) worker.Delivery {
	var m rabbitmq.JobMessage
	if err := json.Unmarshal(d.Body, &m); err != nil {
		log.Printf("bad message: %v", err)
	}
	return worker.Delivery{
		JobID:      m.JobID,
		Attempt:    rabbitmq.Attempt(d.Headers),
		Ack:        func() error { return d.Ack(false) },
		DeadLetter: func() error { return d.Nack(false, false) },
		Retry: func(attempt int, delay time.Duration) error {
			if err := pub.PublishRetry(ctx, m.JobID, attempt, delay); err != nil {
				return err
			}
			return d.Ack(false)
		},
	}
}
