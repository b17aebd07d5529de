package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/yangwenmai/letterlock/internal/letter"
	"github.com/yangwenmai/letterlock/internal/poller"
)

func newWaitCommand() *cobra.Command {
	var (
		serverURL string
		in        letter.VerifyInput
		interval  time.Duration
		timeout   time.Duration
		showFull  bool
	)

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Poll a server until an artifact unlocks or the timeout passes",
		Long: "Polls GET /api/verify on a fixed interval. Exits 0 when the artifact unlocks\n" +
			"and also when the timeout passes first: payment confirmation may simply be delayed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.ArtifactID == "" {
				return fmt.Errorf("--artifact is required")
			}
			checker := poller.NewHTTPChecker(serverURL, 10*time.Second)
			res, err := poller.New(checker, interval, timeout).Wait(cmd.Context(), in)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderWaitResult(in.ArtifactID, res))
			if res.Status == poller.StatusDelayed {
				fmt.Fprintln(out, "Payment is still processing. Your letter will unlock once it is confirmed; check again later.")
			}
			if showFull && res.Last != nil && res.Last.FullContent != nil {
				fmt.Fprintln(out)
				fmt.Fprintln(out, *res.Last.FullContent)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "letterlock server base URL")
	cmd.Flags().StringVar(&in.ArtifactID, "artifact", "", "Artifact id to wait for")
	cmd.Flags().StringVar(&in.GatewaySessionID, "session", "", "Checkout session id from the payment redirect")
	cmd.Flags().StringVar(&in.OwnerSessionID, "owner", "", "Owner session id used at generation")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "Give up and report a delay after this long")
	cmd.Flags().BoolVar(&showFull, "print", false, "Print the full letter once unlocked")

	return cmd
}

func renderWaitResult(artifactID string, res *poller.Result) string {
	state := "-"
	if res.Last != nil {
		state = string(res.Last.PaymentState)
	}
	return renderTable(
		[]string{"Artifact", "Status", "Payment", "Attempts"},
		[][]string{{artifactID, string(res.Status), state, strconv.Itoa(res.Attempts)}},
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
	)
}
