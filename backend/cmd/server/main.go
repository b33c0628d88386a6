package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/Warpmeet/backend/internal/config"
	"github.com/BioHazard786/Warpmeet/backend/internal/logging"
	"github.com/BioHazard786/Warpmeet/backend/internal/presence"
	"github.com/BioHazard786/Warpmeet/backend/internal/relay"
	"github.com/BioHazard786/Warpmeet/backend/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init("info").Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Init(cfg.Log.Level)

	// 1. Presence store and the peer relay hub
	store := presence.NewStore(
		presence.WithTTL(cfg.Presence.SessionTTL),
		presence.WithLogger(logger),
	)
	hub := relay.NewHub(relay.Options{
		WriteWait:      cfg.Relay.WriteWait,
		PongWait:       cfg.Relay.PongWait,
		MaxMessageSize: cfg.Relay.MaxMessageSize,
		SendBuffer:     cfg.Relay.SendBuffer,
	}, logger)

	// 2. HTTP server
	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: server.NewRouter(server.Deps{
			Store:          store,
			Hub:            hub,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 3. Background loops
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return store.Run(gctx, cfg.Presence.SweepInterval) })
	g.Go(func() error {
		logger.Info("signaling server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// A failing listener must not leave the process waiting for a signal.
	go func() {
		<-gctx.Done()
		if ctx.Err() == nil {
			logger.Error("server stopped unexpectedly")
			if p, err := os.FindProcess(os.Getpid()); err == nil {
				p.Signal(os.Interrupt)
			}
		}
	}()

	// 4. Graceful shutdown on SIGINT/SIGTERM
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
			"background": func(ctx context.Context) error {
				cancel()
				return g.Wait()
			},
		},
	)

	exitCode := <-wait
	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", "error", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	logger.Info("shutdown complete", "exit_code", exitCode)
	os.Exit(exitCode)
}
