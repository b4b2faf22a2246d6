package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jacky-htg/ai-booking-agent/backend/internal/agentmgr"
	"github.com/jacky-htg/ai-booking-agent/backend/internal/factory"
	"github.com/jacky-htg/ai-booking-agent/libs/config"
	"github.com/jacky-htg/ai-booking-agent/libs/logging"
	"github.com/jacky-htg/ai-booking-agent/libs/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadFromEnv()
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("new logger: %w", err)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	v, err := factory.NewVendors(cfg)
	if err != nil {
		return fmt.Errorf("new vendors: %w", err)
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	mgr := agentmgr.New(agentmgr.Deps{
		Store:     st,
		Config:    cfg,
		TTS:       v.TTS,
		STT:       v.STT,
		LLM:       v.LLM,
		Scheduler: factory.NewScheduler(cfg),
		Logger:    log,
	})

	s := &server{cfg: cfg, store: st, mgr: mgr, webrtc: v.WebRTC, log: log}
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("booking agent server listening", zap.String("addr", srv.Addr), zap.String("scheduling_url", cfg.Scheduling.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mgr.StopAll(shutdownCtx)
	return srv.Shutdown(shutdownCtx)
}
