// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/grantd/grantd/pkg/authserver"
	"github.com/grantd/grantd/pkg/authserver/handlers"
	serverkeys "github.com/grantd/grantd/pkg/authserver/keys"
	"github.com/grantd/grantd/pkg/logger"
)

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authorization server",
		Long: `Start the grantd authorization server with the configured storage
backend, grants, clients, and users.`,
		RunE: runServe,
	}
	cmd.Flags().String("address", "", "Address to listen on (overrides the configuration file)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath, _ = cmd.Root().PersistentFlags().GetString("config")
	}
	cfg, err := loadSettings(configPath)
	if err != nil {
		return err
	}
	if flagAddress, _ := cmd.Flags().GetString("address"); flagAddress != "" {
		cfg.Address = flagAddress
	}

	store, err := buildStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("Failed to close storage: %v", err)
		}
	}()
	if err := seedStorage(ctx, store, cfg); err != nil {
		return err
	}

	serverCfg, err := cfg.serverConfig()
	if err != nil {
		return err
	}
	provider, err := serverkeys.NewProvider(serverCfg.Keys)
	if err != nil {
		return err
	}
	signer := authserver.NewJWTSigner(serverCfg.Issuer, provider)

	server, err := authserver.New(serverCfg, store, signer)
	if err != nil {
		return err
	}
	resource := authserver.NewResourceServer(signer, store)

	sessionHeader := cfg.SessionHeader
	sessions := handlers.SessionResolverFunc(func(r *http.Request) string {
		return r.Header.Get(sessionHeader)
	})

	handler := handlers.NewHandler(
		server,
		resource,
		handlers.NewJWKSSource(provider),
		sessions,
		cfg.LoginURL,
	)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)
	handler.OAuthRoutes(router)
	handler.WellKnownRoutes(router)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Health(r.Context()); err != nil {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	httpServer := &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		logger.Infof("Authorization server listening on %s", cfg.Address)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
		return err
	}

	logger.Info("Server shutdown complete")
	return nil
}
