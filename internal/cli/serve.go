package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"flowerpod/internal/auth"
	"flowerpod/internal/handler"
	"flowerpod/internal/router"
	"flowerpod/internal/speech"
	"flowerpod/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(flags *rootFlags) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, cfg.Database.AutoMigrate)
			if err != nil {
				return err
			}
			defer a.Close()

			if cfg.Storage.Watch && a.local != nil {
				w, err := storage.NewWatcher(a.local, 0, a.guides.DirRemoved)
				if err != nil {
					return err
				}
				go func() {
					if err := w.Run(ctx); err != nil {
						klog.Errorf("storage watcher stopped: %v", err)
					}
				}()
			}

			tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
			sessions := auth.NewSessions(cfg.Auth.SessionSecret, cfg.Auth.SessionMaxAge, cfg.Auth.SecureCookies)
			engine := router.Setup(cfg, router.Deps{
				Tokens:   tokens,
				Sessions: sessions,
				Home:     handler.NewHomeHandler(speech.New(cfg.Speech)),
				Auth:     handler.NewAuthHandler(a.users, tokens, sessions),
				Guides:   handler.NewGuideHandler(a.guides, cfg.MaxUploadBytes(), a.mediaBase()),
				Admin:    handler.NewAdminHandler(a.users, a.guides),
			})

			srv := &http.Server{
				Addr:              ":" + cfg.Server.Port,
				Handler:           engine,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				klog.Infof("server starting on port %s", cfg.Server.Port)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			klog.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides server.port)")
	return cmd
}
