package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"log"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campuschat/internal/api"
	"campuschat/internal/auth"
	"campuschat/internal/commands"
	"campuschat/internal/config"
	"campuschat/internal/http"
	"campuschat/internal/presence"
	"campuschat/internal/registry"
	"campuschat/internal/router"
	"campuschat/internal/storage"
	"campuschat/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("campuschat", flag.ContinueOnError)
	issueToken := fs.String("issue-token", "", "User ID to issue an access token for (calls the admin API of a running server)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*issueToken != "")
	if err != nil {
		return err
	}

	if *issueToken != "" {
		return commands.IssueToken(*issueToken, cfg, os.Stdout)
	}

	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	authConfig := auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry: cfg.TokenExpiry,
	}
	authService, err := auth.NewAuthService(ctx, authConfig)
	if err != nil {
		return err
	}

	store, err := storage.Open(ctx, cfg.StorageBackend, storage.Config{
		Path:          cfg.DBFile,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
	})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	logger.Info("storage opened", "backend", cfg.StorageBackend)

	reg := registry.New()
	tracker := presence.NewTracker(reg, logger)
	msgRouter := router.New(store, reg, logger)
	hub := ws.NewHub(tracker, msgRouter)

	g, gCtx := errgroup.WithContext(ctx)

	gateway := ws.NewServer(gCtx, authService, hub, ws.ServerConfig{
		VerifyTimeout:  cfg.VerifyTimeout,
		SendBuffer:     cfg.SendBuffer,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger)

	adminServer := http.NewAdminServer(authService, cfg.AdminAddr)
	apiServer := http.NewAPIServer(api.New(authService, store, msgRouter, logger), gateway, cfg.AllowedOrigins, cfg.APIAddr)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
