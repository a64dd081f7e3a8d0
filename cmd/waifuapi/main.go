package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"waifuapi/internal/app"
	"waifuapi/internal/config"
	"waifuapi/internal/server"
	"waifuapi/internal/util"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("WAIFUAPI_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	modelTimeout, err := cfg.ModelTimeoutDuration()
	if err != nil {
		util.Fatal("failed to parse model timeout", "err", err)
	}
	rateWindow, err := cfg.ChatRateWindowDuration()
	if err != nil {
		util.Fatal("failed to parse chat rate window", "err", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:     cfg.DatabaseURL,
		ModelURL:        cfg.ModelURL,
		ModelTimeout:    modelTimeout,
		TranslateURL:    cfg.TranslateURL,
		TranslateAPIKey: cfg.TranslateAPIKey,
		DefaultResponse: cfg.DefaultResponse,
		DefaultGenre:    cfg.DefaultGenre,
		UserName:        cfg.UserName,
		WaifuName:       cfg.WaifuName,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: cfg.TrustedProxies,
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
		ChatRateLimit:  cfg.ChatRateLimit,
		ChatRateWindow: rateWindow,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("waifuapi server listening", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
