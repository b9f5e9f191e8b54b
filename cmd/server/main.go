// Package main initializes and starts the buildsite web server: the public
// site and the back-office, setting up configuration, logging, the session
// database, services, handlers and optional TLS.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/atinyakov/buildsite/internal/certgen"
	"github.com/atinyakov/buildsite/internal/client/api"
	"github.com/atinyakov/buildsite/internal/config"
	"github.com/atinyakov/buildsite/internal/db"
	"github.com/atinyakov/buildsite/internal/logger"
	"github.com/atinyakov/buildsite/internal/repository"
	"github.com/atinyakov/buildsite/internal/server/handler/http"
	"github.com/atinyakov/buildsite/internal/service"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse .env, command-line, config file and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL connection.
	postgresDB, err := db.InitPostgres(ctx, options.DatabaseDSN)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}
	defer postgresDB.Close()

	// Drop browser sessions idle for longer than the TTL, now and hourly.
	if removed, err := db.PurgeSessions(ctx, postgresDB, time.Now().Add(-options.SessionTTL)); err != nil {
		zapLogger.Warn("initial session purge failed", zap.Error(err))
	} else if removed > 0 {
		zapLogger.Info("purged expired browser sessions", zap.Int64("removed", removed))
	}
	db.StartSessionCleaner(ctx, postgresDB, time.Hour, options.SessionTTL, zapLogger)

	// Backend transport shared by the public pages and every browser session.
	httpClient, err := api.NewHTTPClient(options.APICAFile, options.APITimeout)
	if err != nil {
		zapLogger.Fatal("cannot build backend client", zap.Error(err))
	}
	publicAPI := api.New(options.APIOrigin, nil, api.WithHTTPClient(httpClient), api.WithLogger(zapLogger))

	sessionRepo := repository.NewPostgresSessionRepository(postgresDB)
	sessionService := service.NewSessionService(sessionRepo, options.APIOrigin, httpClient, zapLogger)

	render, err := http.NewRenderer(options.StorageOrigin, zapLogger)
	if err != nil {
		zapLogger.Fatal("cannot parse templates", zap.Error(err))
	}

	siteHandler := &http.SiteHandler{
		Records: publicAPI,
		Render:  render,
		Contact: http.Contact{
			Company: "Buildsite Construction",
			Address: cmp.Or(os.Getenv("CONTACT_ADDRESS"), "1 Foundry Lane, Springfield"),
			Phone:   cmp.Or(os.Getenv("CONTACT_PHONE"), "+1 555 0100"),
			Email:   cmp.Or(os.Getenv("CONTACT_EMAIL"), "office@buildsite.example"),
		},
		Log: zapLogger,
	}
	authHandler := &http.AuthHandler{
		Sessions:      sessionService,
		Render:        render,
		SecureCookies: options.Secure(),
		Log:           zapLogger,
	}
	uploads := http.NewUploads(http.DefaultUploadTTL, zapLogger)
	uploads.StartSweeper(ctx, 5*time.Minute)
	adminHandler := &http.AdminHandler{
		Render:        render,
		StorageOrigin: options.StorageOrigin,
		Log:           zapLogger,
		Uploads:       uploads,
	}

	// Build the router with middleware and routes.
	router := http.NewRouter(siteHandler, authHandler, adminHandler, sessionService, http.RouterOptions{
		RequiredRole:  options.RequiredRole,
		SecureCookies: options.Secure(),
	}, zapLogger)

	if options.AutoTLS {
		created, err := certgen.EnsureSelfSigned(options.TLSCert, options.TLSKey, []string{"localhost", "127.0.0.1"})
		if err != nil {
			zapLogger.Fatal("failed to generate development certificate", zap.Error(err))
		}
		if created {
			zapLogger.Warn("generated self-signed certificate", zap.String("cert", options.TLSCert))
		}
	}

	server := &nethttp.Server{
		Addr:              options.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("graceful shutdown failed", zap.Error(err))
		}
	}()

	if options.Secure() {
		zapLogger.Info("starting HTTPS server", zap.String("addr", options.Addr))
		err = server.ListenAndServeTLS(options.TLSCert, options.TLSKey)
	} else {
		zapLogger.Info("starting HTTP server", zap.String("addr", options.Addr))
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		zapLogger.Fatal("server failed", zap.Error(err))
	}
	zapLogger.Info("server stopped")
}
