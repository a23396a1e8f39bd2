package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"courier/internal/cipher"
	"courier/internal/domain"
)

// send <peer> <message>: encrypt and send a message to <peer>.
func sendCmd() *cobra.Command {
	var peerDevice uint32
	cmd := &cobra.Command{
		Use:   "send <peer> <message>",
		Short: "Encrypt and send a message to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := unlock()
			if err != nil {
				return err
			}
			defer acct.Close()

			peer := domain.Username(args[0])
			ts, err := acct.Messages.SendMessage(cmd.Context(), peer, domain.DeviceID(peerDevice), args[1])
			if errors.Is(err, cipher.ErrNoSession) {
				return fmt.Errorf("no session with %s; run start-session first", peer)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Sent at %d\n", ts)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&peerDevice, "to-device", 1, "peer device id")
	return cmd
}
