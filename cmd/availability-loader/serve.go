package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	avail "github.com/CovidWA/covidwa-availability"
)

var serveAddress string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the location update API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var registry avail.Registry
		if len(cfg.DatabaseUrl) > 0 {
			postgres, pool, err := avail.ConnectPostgresRegistry(ctx, cfg.DatabaseUrl)
			if err != nil {
				return err
			}
			defer pool.Close()
			registry = postgres
		} else {
			avail.Log.Warnf("No database_url configured, keeping locations in memory")
			registry = avail.NewMemoryRegistry()
		}

		address := serveAddress
		if len(address) == 0 {
			address = cfg.ServerAddress
		}
		if len(address) == 0 {
			address = ":3000"
		}

		srv := &http.Server{
			Addr:              address,
			Handler:           avail.NewServer(registry, cfg.ServerApiKeys).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			avail.Log.Info("Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		avail.Log.Infof("Listening on %s", address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
