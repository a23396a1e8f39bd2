package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"courier/internal/domain"
)

func registerCmd() *cobra.Command {
	var oneTime int
	cmd := &cobra.Command{
		Use:   "register [username]",
		Short: "Publish your prekey bundle to the relay",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			if len(args) == 1 {
				appCtx.Config.Username = domain.Username(args[0])
			}
			profile, err := appCtx.Register(cmd.Context(), passphrase, oneTime)
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s (device %d) with %s\n", profile.Username, profile.DeviceID, profile.ServerURL)
			return nil
		},
	}
	cmd.Flags().IntVar(&oneTime, "prekeys", 100, "one-time prekeys to publish")
	return cmd
}
