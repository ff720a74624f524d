package cmd

import (
	"fmt"

	"github.com/proxy2vpn/proxy2vpn/internal/compose"
	"github.com/spf13/cobra"
)

// NewProfileCmd creates the profile command group
func NewProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage credential profiles",
		Long:  `Profiles are reusable credential/runtime templates referenced by VPN services.`,
	}

	cmd.AddCommand(newProfileCreateCmd())
	cmd.AddCommand(newProfileListCmd())
	cmd.AddCommand(newProfileDeleteCmd())

	return cmd
}

func newProfileCreateCmd() *cobra.Command {
	var (
		envFile string
		image   string
		capAdd  []string
		devices []string
	)

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a profile",
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

			profile := compose.Profile{
				Name:    args[0],
				EnvFile: envFile,
				Image:   image,
				CapAdd:  capAdd,
				Devices: devices,
			}
			if err := store.AddProfile(profile); err != nil {
				return fmt.Errorf("failed to create profile: %w", err)
			}
			fmt.Printf("✅ Created profile %s\n", profile.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to the credential env file")
	cmd.Flags().StringVar(&image, "image", "qmcgaw/gluetun:latest", "Container image")
	cmd.Flags().StringArrayVar(&capAdd, "cap-add", []string{"NET_ADMIN"}, "Required kernel capability (repeatable)")
	cmd.Flags().StringArrayVar(&devices, "device", []string{"/dev/net/tun:/dev/net/tun"}, "Required host device mapping (repeatable)")

	return cmd
}

func newProfileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}

			profiles := store.ListProfiles()
			if len(profiles) == 0 {
				fmt.Println("No profiles found")
				return nil
			}
			for _, p := range profiles {
				fmt.Printf("%s\n", p.Name)
				fmt.Printf("  Image:    %s\n", p.Image)
				if p.EnvFile != "" {
					fmt.Printf("  Env file: %s\n", p.EnvFile)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func newProfileDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a profile",
		Long:  `Deletes a profile. Fails while any service still references it.`,
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

			if err := store.RemoveProfile(args[0]); err != nil {
				return fmt.Errorf("failed to delete profile: %w", err)
			}
			fmt.Printf("✅ Deleted profile %s\n", args[0])
			return nil
		},
	}
}
