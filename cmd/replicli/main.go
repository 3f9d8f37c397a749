// cmd/replicli is the administrative CLI for a replication node.
//
// Usage:
//
//	replicli destinations list          --server http://localhost:8080
//	replicli failures list              --server http://localhost:8080
//	replicli failures reset <destination> --server http://localhost:8080
//	replicli heartbeat <peerURL>         --server http://localhost:8080 --self http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"docreplicator/internal/adminclient"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "replicli",
		Short: "Administrative CLI for a replication node",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "Node admin address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(destinationsCmd(), failuresCmd(), heartbeatCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── destinations ───────────────────────────────────────────────────────────

func destinationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "destinations",
		Short: "Inspect configured replication destinations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured destinations",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := adminclient.New(serverAddr, timeout)
			dests, err := c.ListDestinations(context.Background())
			if err != nil {
				return err
			}
			return prettyPrint(dests)
		},
	})
	return cmd
}

// ─── failures ───────────────────────────────────────────────────────────────

func failuresCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "Inspect and clear per-destination failure state",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List current destination failure counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := adminclient.New(serverAddr, timeout)
			stats, err := c.ListFailures(context.Background())
			if err != nil {
				return err
			}
			return prettyPrint(stats)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <destination>",
		Short: "Clear a destination's failure count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := adminclient.New(serverAddr, timeout)
			if err := c.ResetFailure(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("reset failure count for %q\n", args[0])
			return nil
		},
	})

	return cmd
}

// ─── heartbeat ──────────────────────────────────────────────────────────────

func heartbeatCmd() *cobra.Command {
	var self string
	cmd := &cobra.Command{
		Use:   "heartbeat <peerURL>",
		Short: "Send a sibling heartbeat to a peer node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if self == "" {
				self = serverAddr
			}
			c := adminclient.New(serverAddr, timeout)
			if err := c.Heartbeat(context.Background(), args[0], self); err != nil {
				return err
			}
			fmt.Printf("heartbeat sent to %q\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&self, "self", "", "This node's own URL, as reported to the peer (defaults to --server)")
	return cmd
}

// ─── helpers ────────────────────────────────────────────────────────────────

func prettyPrint(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
