package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Stay connected to the relay and process incoming messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := unlock()
			if err != nil {
				return err
			}
			defer acct.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return acct.Run(ctx)
		},
	}
}
