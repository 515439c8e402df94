package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pkgkeeper/cmd/root"
	"pkgkeeper/controllers"
	"pkgkeeper/internal/env"
	"pkgkeeper/internal/logger"
	"pkgkeeper/internal/middleware"
	"pkgkeeper/internal/utils"
	"pkgkeeper/services"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动本地状态HTTP服务",
	Long:  `Serve health, package, snapshot and rollback endpoints plus Prometheus metrics for the working copy`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		env.ServerMode = true
		return root.RootCmd.PersistentPreRunE(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return root.Run(func(app *root.App) error {
			return startServer(ctx, app)
		})
	},
}

/**
 * Run the status server until ctx is done
 * @param {context.Context} ctx - Cancelled on SIGINT/SIGTERM
 * @param {*root.App} app - Wired application
 * @returns {error} Listener or serve errors
 */
func startServer(ctx context.Context, app *root.App) error {
	cfg := app.Config
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.MetricsMiddleware())

	server := services.NewServer(cfg, app.Packages)
	controllers.NewAPIController(server).RegisterRoutes(router)
	controllers.NewPackageController(server).RegisterRoutes(router)

	if utils.AddressInUse(cfg.Server.Address) {
		return fmt.Errorf("address %s is already in use, is another server running?", cfg.Server.Address)
	}
	addrs := []ListenAddr{{Network: "tcp", Address: cfg.Server.Address}}
	if cfg.Server.Socket != "" {
		if IsUnixSocketSupported() {
			addrs = append(addrs, ListenAddr{Network: "unix", Address: cfg.Server.Socket})
		} else {
			logger.Warnf("Unix socket is not supported on this system, %s not served", cfg.Server.Socket)
		}
	}
	listeners, err := CreateListeners(addrs)
	if len(listeners) == 0 {
		return err
	}
	err = nil

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, len(listeners))
	for _, l := range listeners {
		logger.Infof("Status server listening on %s://%s", l.Addr().Network(), l.Addr().String())
		go func(l net.Listener) {
			if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(l)
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down status server")
	case err = <-errCh:
		logger.Errorf("Status server failed: %v", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warnf("Shutdown: %v", serr)
	}
	if cfg.Server.Socket != "" {
		_ = os.Remove(cfg.Server.Socket)
	}
	return err
}

func init() {
	root.RootCmd.AddCommand(serverCmd)
}
