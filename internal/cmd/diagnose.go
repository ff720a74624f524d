package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/proxy2vpn/proxy2vpn/internal/control"
	"github.com/proxy2vpn/proxy2vpn/internal/diagnostics"
	"github.com/proxy2vpn/proxy2vpn/internal/docker"
	"github.com/spf13/cobra"
)

// NewDiagnoseCmd creates the diagnose command
func NewDiagnoseCmd() *cobra.Command {
	var tail int

	cmd := &cobra.Command{
		Use:   "diagnose NAME",
		Short: "Analyze a service's logs and control API",
		Long:  `Scans the container log for known VPN failure signatures and checks whether the control API is reachable.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			svc, err := store.GetService(args[0])
			if err != nil {
				return err
			}

			runtime := docker.NewClient(cfg.DockerNetwork)
			lines, err := runtime.Logs(cmd.Context(), svc.Name, tail)
			if err != nil {
				return fmt.Errorf("failed to get logs: %w", err)
			}

			green := color.New(color.FgGreen).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()

			analyzer := diagnostics.NewAnalyzer()
			for _, result := range analyzer.AnalyzeLogs(lines) {
				mark := green("✓")
				if !result.Passed {
					mark = red("❌")
				}
				fmt.Printf("%s %s: %s", mark, result.Check, result.Message)
				if result.Persistent {
					fmt.Printf(" (persistent)")
				}
				fmt.Println()
				if result.Recommendation != "" {
					fmt.Printf("   %s\n", result.Recommendation)
				}
			}

			client := control.NewClient(svc.ControlPort)
			if status, err := client.Status(cmd.Context()); err != nil {
				fmt.Printf("%s control API on port %d unreachable: %v\n", red("❌"), svc.ControlPort, err)
			} else {
				fmt.Printf("%s control API reachable, tunnel %s\n", green("✓"), status)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&tail, "tail", 100, "Number of trailing log lines to analyze")

	return cmd
}
