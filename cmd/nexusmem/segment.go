// cmd/nexusmem/segment.go
package main

import (
	"fmt"
	"io"

	"github.com/imReese/NexusMem/pkg/sink"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var filterKey string

var segmentCmd = &cobra.Command{
	Use:   "segment <path>...",
	Short: "Decode flushed segment files and print their entries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var err error
		for _, path := range args {
			err = multierr.Append(err, printSegment(cmd.OutOrStdout(), path, filterKey))
		}
		return err
	},
}

func init() {
	segmentCmd.Flags().StringVar(&filterKey, "key", "", "also report whether the segment filter may contain this key")
}

func printSegment(w io.Writer, path, key string) error {
	data, err := sink.ReadSegment(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Fprintf(w, "%s batch=%s entries=%d\n", path, data.BatchID, len(data.Entries))
	for _, e := range data.Entries {
		fmt.Fprintf(w, "  %s\n", e)
	}
	if key != "" {
		fmt.Fprintf(w, "  may contain %q: %t\n", key, data.MayContain([]byte(key)))
	}
	return nil
}
