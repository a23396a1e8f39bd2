package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List retry receipts still waiting for a resend",
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := unlock()
			if err != nil {
				return err
			}
			defer acct.Close()

			ctx := cmd.Context()
			receipts, err := acct.DB.PendingRetries().List(ctx)
			if err != nil {
				return err
			}
			if len(receipts) == 0 {
				fmt.Println("No pending retry receipts")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SENDER\tDEVICE\tSENT\tRECEIVED\tEXPIRES")
			for _, r := range receipts {
				sender := r.Sender.String()
				if rec, ok, err := acct.DB.Recipient(ctx, r.Sender); err == nil && ok {
					sender = rec.Username.String()
				}
				received := time.UnixMilli(r.ReceivedTimestamp)
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
					sender,
					r.SenderDevice,
					r.SentTimestamp,
					received.Format(time.RFC3339),
					received.Add(acct.Config.RetryTimeout).Format(time.RFC3339),
				)
			}
			return tw.Flush()
		},
	}
}
