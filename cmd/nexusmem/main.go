// cmd/nexusmem/main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "config/nexus-mem.yaml"

var (
	configPath string
	serverAddr string
)

var rootCmd = &cobra.Command{
	Use:   "nexusmem",
	Short: "In-memory write buffer with a two-phase flush protocol",
	Long: "nexusmem buffers key/value writes in an ordered memtable and hands " +
		"frozen snapshots to a segment sink, exposed over gRPC.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to the YAML config file")
	rootCmd.AddCommand(serveCmd, segmentCmd)
	addClientCommands(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
