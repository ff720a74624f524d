package main

import (
	"fmt"
	"os"

	"github.com/proxy2vpn/proxy2vpn/internal/cmd"
	"github.com/spf13/cobra"
)

var version = "0.4.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "proxy2vpn",
		Short: "HTTP-proxy-per-VPN-location fleet manager",
		Long: `Proxy2vpn provisions fleets of VPN tunnel containers, one per exit
location, each exposing a local HTTP proxy port. Profiles hold provider
credentials; the compose document tracks every service and its ports.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add subcommands
	rootCmd.AddCommand(cmd.NewInitCmd())
	rootCmd.AddCommand(cmd.NewProfileCmd())
	rootCmd.AddCommand(cmd.NewServiceCmd())
	rootCmd.AddCommand(cmd.NewFleetCmd())
	rootCmd.AddCommand(cmd.NewServersCmd())
	rootCmd.AddCommand(cmd.NewDiagnoseCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
