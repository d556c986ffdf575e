package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	logs "github.com/danmuck/smplog"
	"github.com/google/uuid"

	"ppo-experience-buffer/internal/logcfg"
	"ppo-experience-buffer/internal/worker"
)

const defaultBufferURL = "http://localhost:9001"

func main() {
	logs.Configure(logcfg.Load())

	runner := &worker.Runner{
		WorkerID:      getenv("WORKER_ID", "worker-"+uuid.New().String()),
		BufferURL:     getenv("BUFFER_URL", defaultBufferURL),
		BatchEpisodes: getenvInt("BATCH_EPISODES", 8),
		Seed:          getenvInt64("SEED", time.Now().UnixNano()),
		Backoff:       time.Duration(getenvInt("BACKOFF_MS", 500)) * time.Millisecond,
		MaxBatches:    getenvInt("MAX_BATCHES", 0),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logs.Infof("rollout worker %s submitting to %s", runner.WorkerID, runner.BufferURL)
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logs.Fatalf(err, "worker exited")
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvInt64(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
