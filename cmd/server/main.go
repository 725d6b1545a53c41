package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/christopherjohns/parlor/internal/chat"
	"github.com/christopherjohns/parlor/internal/config"
	"github.com/christopherjohns/parlor/internal/notify"
	"github.com/christopherjohns/parlor/internal/server"
	"github.com/christopherjohns/parlor/internal/store"
	"github.com/christopherjohns/parlor/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg = cfg.ApplyEnv()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
	}
	log.Printf("Connected to Redis at %s", cfg.RedisAddr)

	bus := notify.NewBus(rdb)
	svc := chat.New(store.NewRedisStore(rdb), bus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go svc.RunSweeper(ctx, cfg.SweepPeriod)

	srv := server.New(cfg, svc, ws.NewStream(bus))
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("Starting parlor server on %s", cfg.ListenAddr)
	if err := srv.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
