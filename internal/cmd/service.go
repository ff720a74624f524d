package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/proxy2vpn/proxy2vpn/internal/compose"
	"github.com/proxy2vpn/proxy2vpn/internal/control"
	"github.com/proxy2vpn/proxy2vpn/internal/docker"
	"github.com/proxy2vpn/proxy2vpn/internal/fleet"
	"github.com/spf13/cobra"
)

// NewServiceCmd creates the service command group
func NewServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage individual VPN services",
	}

	cmd.AddCommand(newServiceCreateCmd())
	cmd.AddCommand(newServiceListCmd())
	cmd.AddCommand(newServiceDeleteCmd())
	cmd.AddCommand(newServiceStatusCmd())
	cmd.AddCommand(newServiceLogsCmd())

	return cmd
}

func newServiceCreateCmd() *cobra.Command {
	var (
		profile  string
		provider string
		city     string
		country  string
		port     int
		envFlags []string
		labels   []string
		start    bool
	)

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a single VPN service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}

			env, err := parseKeyValues(envFlags)
			if err != nil {
				return err
			}
			labelMap, err := parseKeyValues(labels)
			if err != nil {
				return err
			}
			env["VPN_SERVICE_PROVIDER"] = provider
			if city != "" {
				env["SERVER_CITIES"] = city
			}
			labelMap[compose.LabelType] = compose.TypeValue
			labelMap[compose.LabelProvider] = provider
			labelMap[compose.LabelProfile] = profile
			labelMap[compose.LabelLocation] = city
			if country != "" {
				labelMap[compose.LabelCountry] = country
			}

			svc := compose.VPNService{
				Name:        fleet.SanitizeName(args[0]),
				Port:        port,
				Provider:    provider,
				Profile:     profile,
				Location:    city,
				Country:     country,
				Environment: env,
				Labels:      labelMap,
			}
			if err := store.AddService(svc); err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}
			stored, err := store.GetService(svc.Name)
			if err != nil {
				return err
			}
			fmt.Printf("✅ Created service %s (port %d, control %d)\n", stored.Name, stored.Port, stored.ControlPort)

			if !start {
				return nil
			}
			runtime := docker.NewClient(cfg.DockerNetwork)
			orch := fleet.NewOrchestrator(store, runtime, fleet.OrchestratorOptions{MaxParallel: cfg.MaxConcurrentStarts})
			return orch.StartService(cmd.Context(), stored.Name)
		},
		Args: cobra.ExactArgs(1),
	}

	cmd.Flags().StringVar(&profile, "profile", "", "Profile providing credentials and image")
	cmd.Flags().StringVar(&provider, "provider", "", "VPN provider")
	cmd.Flags().StringVar(&city, "city", "", "Exit city")
	cmd.Flags().StringVar(&country, "country", "", "Exit country")
	cmd.Flags().IntVar(&port, "port", 0, "Host proxy port")
	cmd.Flags().StringArrayVar(&envFlags, "env", nil, "Environment override KEY=value (repeatable)")
	cmd.Flags().StringArrayVar(&labels, "label", nil, "Label KEY=value (repeatable)")
	cmd.Flags().BoolVar(&start, "start", false, "Start the container after creating the service")
	_ = cmd.MarkFlagRequired("profile")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("port")

	return cmd
}

func newServiceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List VPN services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}

			services := store.ListServices()
			if len(services) == 0 {
				fmt.Println("No services found")
				return nil
			}

			// Container state is best effort; the listing still works
			// without a reachable runtime.
			states := map[string]string{}
			runtime := docker.NewClient(cfg.DockerNetwork)
			if containers, err := runtime.List(cmd.Context(), true); err == nil {
				for _, c := range containers {
					states[c.Name] = c.Status
				}
			}

			green := color.New(color.FgGreen).SprintFunc()
			yellow := color.New(color.FgYellow).SprintFunc()

			for _, svc := range services {
				state := states[svc.Name]
				if state == "" {
					state = yellow("not created")
				} else {
					state = green(state)
				}
				fmt.Printf("%s (%s)\n", svc.Name, state)
				fmt.Printf("  Provider: %s\n", svc.Provider)
				fmt.Printf("  Profile:  %s\n", svc.Profile)
				fmt.Printf("  Location: %s\n", svc.Location)
				fmt.Printf("  Proxy:    http://localhost:%d\n", svc.Port)
				fmt.Printf("  Control:  http://localhost:%d\n", svc.ControlPort)
				fmt.Println()
			}
			return nil
		},
	}
}

func newServiceDeleteCmd() *cobra.Command {
	var keepContainer bool

	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a VPN service",
		Long:  `Removes the service from the compose document and, unless --keep-container is set, stops and removes its container.`,
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

			name := args[0]
			if err := store.RemoveService(name); err != nil {
				return fmt.Errorf("failed to delete service: %w", err)
			}
			fmt.Printf("✅ Deleted service %s\n", name)

			if keepContainer {
				return nil
			}
			runtime := docker.NewClient(cfg.DockerNetwork)
			exists, err := runtime.Exists(cmd.Context(), name)
			if err != nil || !exists {
				return nil
			}
			if err := runtime.Stop(cmd.Context(), name); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to stop container %s: %v\n", name, err)
			}
			if err := runtime.Remove(cmd.Context(), name); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to remove container %s: %v\n", name, err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepContainer, "keep-container", false, "Leave the backing container in place")

	return cmd
}

func newServiceStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status NAME",
		Short: "Show container state and exit IP of a service",
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
			state, err := runtime.StatusOf(cmd.Context(), svc.Name)
			if err != nil {
				return fmt.Errorf("failed to get container state: %w", err)
			}

			green := color.New(color.FgGreen).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()

			stateStr := red(state)
			if state == "running" {
				stateStr = green(state)
			}
			fmt.Printf("%s (%s)\n", svc.Name, stateStr)
			fmt.Printf("  Provider: %s\n", svc.Provider)
			fmt.Printf("  Location: %s\n", svc.Location)
			fmt.Printf("  Proxy:    http://localhost:%d\n", svc.Port)

			if state != "running" {
				return nil
			}
			client := control.NewClient(svc.ControlPort)
			if ip, err := client.PublicIP(cmd.Context()); err == nil && ip != "" {
				fmt.Printf("  Exit IP:  %s\n", ip)
			} else if ip, err := control.ProxyIP(cmd.Context(), svc.Port); err == nil {
				fmt.Printf("  Exit IP:  %s (via proxy)\n", ip)
			} else {
				fmt.Printf("  Exit IP:  %s\n", red("unreachable"))
			}
			return nil
		},
	}
}

func newServiceLogsCmd() *cobra.Command {
	var (
		tail   int
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "logs NAME",
		Short: "Show container logs of a service",
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
			if follow {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
				defer stop()
				return runtime.FollowLogs(ctx, svc.Name, tail, os.Stdout)
			}
			lines, err := runtime.Logs(cmd.Context(), svc.Name, tail)
			if err != nil {
				return fmt.Errorf("failed to get logs: %w", err)
			}
			for _, line := range lines {
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&tail, "tail", 100, "Number of trailing log lines")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream new log lines")

	return cmd
}
