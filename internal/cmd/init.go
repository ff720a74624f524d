package cmd

import (
	"fmt"

	"github.com/proxy2vpn/proxy2vpn/internal/compose"
	"github.com/spf13/cobra"
)

// NewInitCmd creates the init command
func NewInitCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an empty compose document",
		Long:  `Scaffolds the compose document that tracks profiles and VPN services.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				path = cfg.ComposeFile
			}
			if err := compose.CreateInitial(path); err != nil {
				return fmt.Errorf("failed to create compose document: %w", err)
			}
			fmt.Printf("✅ Created %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Compose document path (default from config)")

	return cmd
}
