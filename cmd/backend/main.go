package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pdf-form-drop/internal/catalog"
	"pdf-form-drop/internal/config"
	"pdf-form-drop/internal/db"
	"pdf-form-drop/internal/logger"
	"pdf-form-drop/internal/mirror"
	"pdf-form-drop/internal/server"
	"pdf-form-drop/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "backend: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Level(cfg.LogLevel), logger.Format(cfg.LogFormat))
	if err != nil {
		fmt.Fprintf(os.Stderr, "backend: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("backend stopped", logger.ErrorField(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	st, err := store.New(cfg.UploadsDir, storeOptions(cfg, log)...)
	if err != nil {
		return err
	}

	opts := []server.Option{server.WithLogger(log)}

	if cfg.CatalogEnabled() {
		conn, err := openCatalog(cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close() }()
		opts = append(opts, server.WithCatalog(catalog.New(conn, log)))
	}

	if cfg.MirrorEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		m, err := mirror.New(ctx, mirrorConfig(cfg), log)
		cancel()
		if err != nil {
			return fmt.Errorf("mirror: %w", err)
		}
		opts = append(opts, server.WithMirror(m))
	}

	srv := server.New(serverConfig(cfg), st, opts...)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting",
			zap.String("addr", cfg.Addr),
			zap.String("uploads_dir", st.Root()),
			zap.Bool("catalog", cfg.CatalogEnabled()),
			zap.Bool("mirror", cfg.MirrorEnabled()),
			zap.String("version", cfg.Version),
			zap.String("commit", cfg.Commit))
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		log.Info("shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func openCatalog(url string, log *zap.Logger) (*sql.DB, error) {
	conn, err := db.Open(url)
	if err != nil {
		return nil, fmt.Errorf("catalog connect: %w", err)
	}

	log.Info("running migrations")
	if err := db.RunMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("catalog migrate: %w", err)
	}
	log.Info("migrations complete")
	return conn, nil
}

func storeOptions(cfg *config.Config, log *zap.Logger) []store.Option {
	opts := []store.Option{store.WithLogger(log)}
	if cfg.CollisionAttempts > 0 {
		opts = append(opts, store.WithCollisionCheck(cfg.CollisionAttempts))
	}
	return opts
}

func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		Addr:           cfg.Addr,
		PublicDir:      cfg.PublicDir,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		RateLimit:      cfg.RateLimit,
		TrustedProxies: cfg.TrustedProxyPrefixes(),
		Version:        cfg.Version,
		Commit:         cfg.Commit,
	}
}

func mirrorConfig(cfg *config.Config) mirror.Config {
	return mirror.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Bucket:    cfg.S3.Bucket,
	}
}
