package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewServersCmd creates the servers command group
func NewServersCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Browse the provider server-location catalog",
	}

	providers := &cobra.Command{
		Use:   "providers",
		Short: "List known VPN providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cat, err := openCatalog(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = cat.Close() }()

			if refresh {
				if err := cat.Refresh(cmd.Context(), true); err != nil {
					return err
				}
			}
			names, err := cat.ListProviders(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}

	countries := &cobra.Command{
		Use:   "countries PROVIDER",
		Short: "List the countries a provider serves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cat, err := openCatalog(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = cat.Close() }()

			if refresh {
				if err := cat.Refresh(cmd.Context(), true); err != nil {
					return err
				}
			}
			names, err := cat.ListCountries(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}

	cities := &cobra.Command{
		Use:   "cities PROVIDER COUNTRY",
		Short: "List the cities a provider serves in a country",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cat, err := openCatalog(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = cat.Close() }()

			if refresh {
				if err := cat.Refresh(cmd.Context(), true); err != nil {
					return err
				}
			}
			names, err := cat.ListCities(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVar(&refresh, "refresh", false, "Force a catalog download")
	cmd.AddCommand(providers, countries, cities)

	return cmd
}
