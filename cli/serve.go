package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shohanonfire/payment-server/handlers"
	"github.com/shohanonfire/payment-server/purge"
	"github.com/shohanonfire/payment-server/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if interval := a.cfg.PurgeInterval(); interval > 0 {
				cleaner := purge.NewCleaner(a.svc, interval, a.cfg.PurgeRetention(), a.logger)
				go cleaner.Start(ctx)
			}

			h := handlers.New(a.svc, a.logger, handlers.Options{
				AdminKey:          a.cfg.Server.AdminKey,
				AllowOrigin:       a.cfg.Server.AllowOrigin,
				GeneratePerMinute: a.cfg.Limits.GeneratePerMinute,
				Burst:             a.cfg.Limits.Burst,
			})
			srv := server.New(h.RegisterRoutes(http.NewServeMux()), server.Config{
				Addr:      a.cfg.Server.Addr,
				TLSDomain: a.cfg.Server.TLSDomain,
			}, a.logger)

			if a.cfg.Server.AdminKey == "" {
				a.logger.Warn("admin routes are unprotected; set server.admin_key")
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("shutdown", zap.Error(err))
				return err
			}
			return <-errCh
		},
	}
}
