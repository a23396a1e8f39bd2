package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"courier/internal/platform/ratelimiter"
	"courier/internal/relay"
)

func main() {
	var (
		addr    string
		every   time.Duration
		burst   int
		verbose bool
	)

	root := &cobra.Command{
		Use:   "relay",
		Short: "In-memory store-and-forward relay for courier",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:              addr,
				Handler:           relay.NewServer(ratelimiter.New(every, burst, 0)).Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			logrus.WithField("addr", addr).Info("Relay listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	root.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	root.Flags().DurationVar(&every, "rate-every", 0, "minimum interval between envelopes per recipient (0 disables)")
	root.Flags().IntVar(&burst, "rate-burst", 20, "envelopes a recipient may receive in a burst")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every request")

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("Relay failed")
		os.Exit(1)
	}
}
