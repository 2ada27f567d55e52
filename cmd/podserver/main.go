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

	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	appcfg "github.com/park285/solid-chess/internal/config"
	"github.com/park285/solid-chess/internal/inbox"
	"github.com/park285/solid-chess/internal/obslog"
	"github.com/park285/solid-chess/internal/pod"
)

func main() {
	_ = godotenv.Load()
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	cfg, err := appcfg.LoadPodServer()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store pod.Store
	switch cfg.Backend {
	case appcfg.BackendRedis:
		rs, err := pod.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis init error: %v", err)
		}
		defer func() { _ = rs.Close() }()
		store = rs
	default:
		store = pod.NewMemoryStore()
	}

	for _, u := range cfg.Users {
		id := cfg.BaseURL + "/" + u + "/card#me"
		box := cfg.BaseURL + "/" + u + "/inbox/"
		if err := store.Write(ctx, id, pod.Profile(id, box, u)); err != nil {
			log.Fatalf("seed profile %s: %v", u, err)
		}
		obslog.L().Info("profile_seeded", zap.String("webid", id), zap.String("inbox", box))
	}

	hub := inbox.NewHub()
	handler := pod.NewHandler(cfg.BaseURL, store, hub.Publish)

	api := &fasthttp.Server{Handler: handler.Serve, Name: "solidchess-pod"}
	ws := &http.Server{Addr: cfg.WSListenAddr, Handler: hub, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		obslog.L().Info("pod_listening", zap.String("addr", cfg.ListenAddr), zap.String("base", cfg.BaseURL))
		if err := api.ListenAndServe(cfg.ListenAddr); err != nil {
			obslog.L().Error("pod_server_failed", zap.Error(err))
			stop()
		}
	}()
	go func() {
		obslog.L().Info("notifications_listening", zap.String("addr", cfg.WSListenAddr))
		if err := ws.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.L().Error("notification_server_failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ws.Shutdown(sctx)
	_ = api.ShutdownWithContext(sctx)
	os.Exit(0)
}
