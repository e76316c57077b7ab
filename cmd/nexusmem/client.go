// cmd/nexusmem/client.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/imReese/NexusMem/pkg/memtable"
	"github.com/imReese/NexusMem/pkg/server"
	"github.com/spf13/cobra"
)

const (
	defaultServerAddr = "localhost:7070"
	defaultAdminAddr  = "localhost:7071"
	requestTimeout    = 5 * time.Second
)

var adminAddr string

// requestFlush triggers the server-side flusher through the admin API.
func requestFlush(ctx context.Context, addr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+"/flush", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request flush: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("request flush: admin returned %s", resp.Status)
	}
	return nil
}

// withClient dials --addr, runs fn with a bounded context and closes the
// connection.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *server.Client) error) error {
	conn, err := server.Dial(serverAddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", serverAddr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()
	return fn(ctx, server.NewClient(conn))
}

func addClientCommands(root *cobra.Command) {
	putCmd := &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Write a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *server.Client) error {
				return c.Update(ctx, []byte(args[0]), []byte(args[1]))
			})
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Query the current memtable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *server.Client) error {
				res, err := c.Query(ctx, []byte(args[0]))
				if err != nil {
					return err
				}
				if res.State == memtable.Live {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\n", res.Value)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), res.State)
				}
				return nil
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Write a tombstone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *server.Client) error {
				return c.Delete(ctx, []byte(args[0]))
			})
		},
	}

	flushCmd := &cobra.Command{
		Use:   "flush",
		Short: "Ask the server's flusher to flush now",
		Long: "flush posts to the admin /flush endpoint. The server's own flusher " +
			"then prepares, persists and finalizes the batch.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := requestFlush(ctx, adminAddr); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "flush requested")
			return nil
		},
	}
	flushCmd.Flags().StringVar(&adminAddr, "admin-addr", defaultAdminAddr, "admin HTTP address of the server")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print memtable statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(ctx context.Context, c *server.Client) error {
				stats, err := c.Stats(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			})
		},
	}

	for _, c := range []*cobra.Command{putCmd, getCmd, deleteCmd, statsCmd} {
		c.Flags().StringVar(&serverAddr, "addr", defaultServerAddr, "gRPC address of the server")
		root.AddCommand(c)
	}
	root.AddCommand(flushCmd)
}
