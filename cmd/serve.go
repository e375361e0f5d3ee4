package cmd

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/phatpinkkk/fairgame-multiplayer/internal/api"
	"github.com/phatpinkkk/fairgame-multiplayer/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		listenAddr string
		dbPath     string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the simulation HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if listenAddr == "" {
				listenAddr = settings.ListenAddr
			}
			if dbPath == "" {
				dbPath = settings.DatabasePath
			}

			db, err := store.New(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			manager := newManager(settings)
			srv := &http.Server{
				Addr:    listenAddr,
				Handler: api.NewServer(manager, db, settings.TemplateDir, settings.RequestTimeout).Routes(),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				log.Printf("serve_start addr=%s db=%s", listenAddr, dbPath)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Printf("serve_shutdown")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (default from settings)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default from settings)")
	return cmd
}
