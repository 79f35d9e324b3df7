package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-homesync/internal/localexec"
)

var (
	discoverTarget  string
	discoverListen  string
	discoverMagic   string
	discoverTimeout time.Duration
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find local execution proxies on the LAN",
	Long: `Broadcasts the discovery packet and lists every proxy that answers
before the timeout.`,
	PreRunE: func(*cobra.Command, []string) error {
		if discoverTimeout <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
		if discoverMagic == "" {
			return fmt.Errorf("magic packet must not be empty")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), discoverTimeout)
		defer cancel()

		found, err := localexec.Discover(ctx, discoverTarget, discoverListen, discoverMagic)
		if err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(found) == 0 {
			fmt.Fprintln(out, "no proxies found")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROXY ID\tADDRESS\tCOMMAND PORT")
		for _, f := range found {
			fmt.Fprintf(w, "%s\t%s\t%d\n", f.ProxyID, f.Addr, f.Port)
		}
		return w.Flush()
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverTarget, "target",
		net.JoinHostPort("255.255.255.255", strconv.Itoa(localexec.DefaultDiscoveryPort)), "address the discovery packet is sent to")
	discoverCmd.Flags().StringVar(&discoverListen, "listen",
		":"+strconv.Itoa(localexec.DefaultReplyPort), "local address replies arrive on")
	discoverCmd.Flags().StringVar(&discoverMagic, "magic", localexec.DefaultMagicPacket, "discovery packet payload")
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 3*time.Second, "how long to wait for replies")
}
