package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "listenify-rtc",
		Short: "Talk to the Listenify realtime API from the terminal",
		Long: `listenify-rtc opens the Listenify realtime socket (JSON-RPC 2.0 over WebSocket)
and lets you issue calls, send notifications and watch server pushes.

Configuration comes from an optional YAML file (--config); flags override it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	pf.StringVar(&flags.url, "url", "", "socket URL (overrides connection.url)")
	pf.StringVar(&flags.token, "token", "", "bearer token sent as the token query parameter")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&flags.logFile, "log-file", "", "write logs to a rotated file instead of stderr")
	pf.BoolVar(&flags.debug, "debug", false, "log every frame sent and received")

	rootCmd.AddCommand(
		callCmd(flags),
		notifyCmd(flags),
		listenCmd(flags),
		versionCmd(),
	)
	return rootCmd
}
