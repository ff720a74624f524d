package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/proxy2vpn/proxy2vpn/internal/docker"
	"github.com/proxy2vpn/proxy2vpn/internal/fleet"
	"github.com/spf13/cobra"
)

// NewFleetCmd creates the fleet command group
func NewFleetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fleet",
		Short: "Plan and deploy fleets of VPN services",
		Long: `Fleet commands turn a declarative request (countries and credential
profiles) into a concrete deployment of VPN exit containers.`,
	}

	cmd.AddCommand(newFleetPlanCmd())
	cmd.AddCommand(newFleetDeployCmd())
	cmd.AddCommand(newFleetStatusCmd())

	return cmd
}

// fleetRequestFlags carries the flags shared by plan and deploy.
type fleetRequestFlags struct {
	provider      string
	countries     []string
	profiles      []string
	portStart     int
	template      string
	maxPerProfile int
}

func (f *fleetRequestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.provider, "provider", "", "VPN provider")
	cmd.Flags().StringArrayVar(&f.countries, "country", nil, "Country to cover, in priority order (repeatable)")
	cmd.Flags().StringArrayVar(&f.profiles, "profile", nil, "Profile capacity as name=slots, in allocation order (repeatable)")
	cmd.Flags().IntVar(&f.portStart, "port-start", fleet.DefaultPortStart, "First proxy port to assign")
	cmd.Flags().StringVar(&f.template, "template", fleet.DefaultNamingTemplate, "Service naming template")
	cmd.Flags().IntVar(&f.maxPerProfile, "max-per-profile", 0, "Cap every profile at this many slots")
}

func (f *fleetRequestFlags) toConfig() (fleet.FleetConfig, error) {
	capacities, err := parseCapacities(f.profiles)
	if err != nil {
		return fleet.FleetConfig{}, err
	}
	return fleet.FleetConfig{
		Provider:       f.provider,
		Countries:      f.countries,
		Profiles:       capacities,
		PortStart:      f.portStart,
		NamingTemplate: f.template,
		MaxPerProfile:  f.maxPerProfile,
	}, nil
}

// buildPlan runs the planner and prints its warnings.
func buildPlan(cmd *cobra.Command, flags *fleetRequestFlags) (*fleet.DeploymentPlan, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	cat, err := openCatalog(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cat.Close() }()

	request, err := flags.toConfig()
	if err != nil {
		return nil, err
	}

	planner := fleet.NewPlanner(store, cat)
	plan, warnings, err := planner.Plan(cmd.Context(), request)
	yellow := color.New(color.FgYellow).SprintFunc()
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "%s %s\n", yellow("⚠"), w)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to plan deployment: %w", err)
	}
	return plan, nil
}

func printPlan(plan *fleet.DeploymentPlan) {
	if len(plan.Services) == 0 {
		fmt.Println("Empty plan: no cities or no free profile slots")
		return
	}
	fmt.Printf("Deployment plan: %d service(s) for %s\n", len(plan.Services), plan.Provider)
	fmt.Println()
	for _, s := range plan.Services {
		fmt.Printf("  %-32s %-10s %-20s port %d\n", s.Name, s.Profile, s.Country+"/"+s.Location, s.Port)
	}
}

func newFleetPlanCmd() *cobra.Command {
	flags := &fleetRequestFlags{}
	var out string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan a fleet deployment without touching anything",
		Long:  `Computes the service names, profile slots and ports a deployment would use. Planning never mutates the compose document or the runtime.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := buildPlan(cmd, flags)
			if err != nil {
				return err
			}
			printPlan(plan)

			if out == "" {
				return nil
			}
			data, err := json.MarshalIndent(plan, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode plan: %w", err)
			}
			if err := os.WriteFile(out, append(data, '\n'), 0644); err != nil {
				return fmt.Errorf("failed to write plan: %w", err)
			}
			fmt.Printf("\n📋 Plan written to %s\n", out)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&out, "out", "", "Write the plan as JSON to this file")
	_ = cmd.MarkFlagRequired("provider")

	return cmd
}

func newFleetDeployCmd() *cobra.Command {
	flags := &fleetRequestFlags{}
	var (
		planFile string
		parallel bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a fleet",
		Long: `Commits a deployment plan to the compose document and starts the
containers. The plan comes from --plan, or is computed from the same flags
fleet plan takes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var plan *fleet.DeploymentPlan
			if planFile != "" {
				data, err := os.ReadFile(planFile)
				if err != nil {
					return fmt.Errorf("failed to read plan: %w", err)
				}
				plan = &fleet.DeploymentPlan{}
				if err := json.Unmarshal(data, plan); err != nil {
					return fmt.Errorf("failed to parse plan: %w", err)
				}
			} else {
				p, err := buildPlan(cmd, flags)
				if err != nil {
					return err
				}
				plan = p
			}
			if len(plan.Services) == 0 {
				return fmt.Errorf("nothing to deploy: plan is empty")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}

			runtime := docker.NewClient(cfg.DockerNetwork)
			orch := fleet.NewOrchestrator(store, runtime, fleet.OrchestratorOptions{
				MaxParallel: cfg.MaxConcurrentStarts,
			})
			result, err := orch.Deploy(cmd.Context(), plan, parallel)
			if err != nil {
				return err
			}

			fmt.Println()
			fmt.Printf("Deployed: %d  Failed: %d\n", result.Deployed, result.Failed)
			if result.Failed > 0 {
				red := color.New(color.FgRed).SprintFunc()
				for _, msg := range result.Errors {
					fmt.Fprintf(os.Stderr, "%s %s\n", red("❌"), msg)
				}
				return fmt.Errorf("%d of %d plan entries failed", result.Failed, len(plan.Services))
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&planFile, "plan", "", "Deploy a previously written plan file")
	cmd.Flags().BoolVar(&parallel, "parallel", true, "Start containers concurrently")

	return cmd
}

func newFleetStatusCmd() *cobra.Command {
	var profiles []string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show fleet occupancy and grouping",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}

			capacities, err := parseCapacities(profiles)
			if err != nil {
				return err
			}

			runtime := docker.NewClient(cfg.DockerNetwork)
			orch := fleet.NewOrchestrator(store, runtime, fleet.OrchestratorOptions{
				MaxParallel: cfg.MaxConcurrentStarts,
			})
			status, err := orch.Status(capacities)
			if err != nil {
				return fmt.Errorf("failed to get fleet status: %w", err)
			}

			fmt.Printf("Fleet: %d service(s)\n", status.TotalServices)
			fmt.Println()

			if len(status.Profiles) > 0 {
				fmt.Println("Profiles")
				for _, p := range status.Profiles {
					fmt.Printf("  %-16s %d/%d used", p.Profile, p.Capacity-p.Remaining, p.Capacity)
					if len(p.Services) > 0 {
						fmt.Printf("  (%d services)", len(p.Services))
					}
					fmt.Println()
				}
				fmt.Println()
			}

			countries := make([]string, 0, len(status.ByCountry))
			for country := range status.ByCountry {
				countries = append(countries, country)
			}
			sort.Strings(countries)
			if len(countries) > 0 {
				fmt.Println("Countries")
				for _, country := range countries {
					fmt.Printf("  %-16s %v\n", country, status.ByCountry[country])
				}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&profiles, "profile", nil, "Declared capacity as name=slots for remaining-slot reporting (repeatable)")

	return cmd
}
