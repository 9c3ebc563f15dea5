package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "keyshop",
		Short:         "Keyshop sells digital redemption keys through a chat payment provider",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (KEYSHOP_* env vars override it)")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(importLegacyCmd(&configPath))
	rootCmd.AddCommand(inventoryCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
