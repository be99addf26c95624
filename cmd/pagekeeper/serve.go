package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/renderinc/pagekeeper/internal/auth"
	"github.com/renderinc/pagekeeper/internal/logger"
	"github.com/renderinc/pagekeeper/internal/metrics"
	"github.com/renderinc/pagekeeper/internal/search"
	"github.com/renderinc/pagekeeper/internal/upload"
	"github.com/renderinc/pagekeeper/internal/web"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start web server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			return runServe(ctx, a)
		},
	}

	cmd.Flags().StringVar(&host, "host", "localhost", "host to bind to")
	cmd.Flags().IntVar(&port, "port", 6893, "port to listen on")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	cfg := a.cfg

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return fmt.Errorf("generate session secret: %w", err)
		}
		secret = hex.EncodeToString(b)
		a.log.Warn("No auth.jwt_secret configured; sessions will not survive a restart")
	}
	if cfg.Auth.PasswordHash == "" {
		a.log.Warn("No auth.password_hash configured; nobody can log in to upload",
			logger.String("hint", "pagekeeper hash-password <password>"))
	}

	uploads := upload.NewStore(cfg.Media.Root, upload.Collision(cfg.Upload.Collision), a.db, a.log)
	if err := uploads.EnsureDirs(); err != nil {
		return err
	}

	server, err := web.NewServer(web.Options{
		Composer: search.NewComposer(a.engine, a.db, a.log),
		Engine:   a.engine,
		Pages:    a.db,
		Uploads:  uploads,
		Sessions: auth.NewManager(secret, cfg.Auth.SessionTTL),
		Credentials: auth.Credentials{
			Username:     cfg.Auth.Username,
			PasswordHash: cfg.Auth.PasswordHash,
		},
		Metrics:        metrics.New(),
		Logger:         a.log,
		MaxUploadBytes: cfg.Upload.MaxBytes,
		SecureCookie:   cfg.Auth.SecureCookie,
	})
	if err != nil {
		return fmt.Errorf("error creating server: %w", err)
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("Server listening",
			logger.String("addr", "http://"+addr),
			logger.String("media_root", cfg.Media.Root),
			logger.String("search_backend", cfg.Search.Backend),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("error starting server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
