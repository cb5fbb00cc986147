package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartcampus/internal/config"
	"smartcampus/internal/notify"
	"smartcampus/internal/queue"
	"smartcampus/internal/store"
)

// Worker delivers queued notifications (recorded to the notification log, the
// stand-in for the external channel) and runs the periodic alert sweep.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("schema migrate failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "smartcampus:notifications")
	}

	logRepo := notify.NewLogRepository(db.Client)
	checker := notify.NewChecker(
		notify.NewRepository(db.Client),
		notify.NewPublisher(q),
		notify.AlertConfig{
			LookbackDays:        cfg.LowAttendanceDays,
			LowAttendancePct:    cfg.LowAttendancePct,
			ExpiringCodesWindow: cfg.ExpiringCodesWindow,
			MaxSections:         cfg.FacultyMaxSections,
			MaxCredits:          cfg.FacultyMaxCredits,
		},
	)

	go runAlertSweep(ctx, checker, cfg.AlertInterval)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != notify.MessageType {
			continue
		}

		var n notify.Notification
		if err := json.Unmarshal(msg.Body, &n); err != nil {
			log.Printf("bad notification payload: %v", err)
			continue
		}

		if err := logRepo.Insert(ctx, n); err != nil {
			log.Printf("record notification for %s failed: %v", n.RecipientEmail, err)
			continue
		}
		log.Printf("delivered %s notification to %s: %s", n.RecipientKind, n.RecipientEmail, n.Subject)
	}

	log.Println("worker stopped")
}

// runAlertSweep runs the batch checks on a fixed interval until cancelled.
func runAlertSweep(ctx context.Context, checker *notify.Checker, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, err := checker.Run(ctx)
			if err != nil {
				log.Printf("alert sweep failed: %v", err)
				continue
			}
			log.Printf("alert sweep complete, %d alert(s) queued", sent)
		}
	}
}
