package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	logs "github.com/danmuck/smplog"

	"ppo-experience-buffer/internal/buffer"
	"ppo-experience-buffer/internal/config"
	"ppo-experience-buffer/internal/logcfg"
	"ppo-experience-buffer/internal/processor/gae"
	"ppo-experience-buffer/internal/serde"
	"ppo-experience-buffer/internal/server"
)

func main() {
	logs.Configure(logcfg.Load())

	cfg, err := config.FromEnv()
	if err != nil {
		logs.Fatalf(err, "failed to load config")
	}

	codec := buffer.Codec[string, []float64, int]{
		AgentIDs:     serde.String(),
		Observations: serde.Float64s(),
		Actions:      serde.Int(),
	}
	experience, err := buffer.New(gae.NewFactory[string, []float64, int](), cfg.Buffer, codec)
	if err != nil {
		logs.Fatalf(err, "failed to build experience buffer")
	}

	srv := server.New(experience, cfg.CheckpointFolder)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logs.Errorf(err, "shutdown error")
		}
	}()

	logs.Infof("replay buffer listening on :%s (capacity=%d dtype=%s device=%s size=%d)",
		cfg.Port, experience.Capacity(), experience.DType(), experience.Device().Name(), experience.Len())
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logs.Fatalf(err, "server exited")
	}

	if cfg.SaveOnExit {
		if err := srv.Checkpoint(); err != nil {
			logs.Errorf(err, "failed to save checkpoint on exit")
		}
	}
}
