package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"courier/internal/domain"
)

// startSessionCmd runs X3DH against a peer's prekey bundle and stores the
// session for the first outgoing message.
func startSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start-session <peer>",
		Short: "Establish a secure session with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := unlock()
			if err != nil {
				return err
			}
			defer acct.Close()

			peer := domain.Username(args[0])
			if _, err := acct.SessionSvc.InitiateSession(cmd.Context(), passphrase, peer); err != nil {
				return fmt.Errorf("starting session with %q: %w", peer, err)
			}
			fmt.Printf("Session created with %s\n", peer)
			return nil
		},
	}
}
