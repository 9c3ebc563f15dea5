package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Zhima-Mochi/keyshop/internal/config"
	"github.com/Zhima-Mochi/keyshop/internal/domain/snapshot"
	"github.com/Zhima-Mochi/keyshop/internal/infrastructure/snapshot/filestore"
	"github.com/spf13/cobra"
)

func importLegacyCmd(configPath *string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "import-legacy <dir>",
		Short: "Import products.json, card_keys.json and payhistory.json into the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runImportLegacy(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite a store that already holds products")
	return cmd
}

func runImportLegacy(ctx context.Context, out io.Writer, cfg config.Config, dir string, force bool) error {
	snap, err := filestore.ImportLegacy(dir)
	if err != nil {
		return err
	}

	gateway, closeGateway, err := openGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeGateway()

	if !force {
		current, err := gateway.Load(ctx)
		if err != nil {
			return fmt.Errorf("import: read current store: %w", err)
		}
		if len(current.Products) > 0 {
			return fmt.Errorf("import: store already holds %d products, rerun with --force to replace them", len(current.Products))
		}
	}

	if err := gateway.Save(ctx, snap); err != nil {
		return fmt.Errorf("import: save: %w", err)
	}

	keys := 0
	for _, pool := range snap.Pools {
		keys += len(pool)
	}
	_, _ = fmt.Fprintf(out, "imported %d products, %d keys, %d buyers\n", len(snap.Products), keys, len(snap.History))
	return nil
}

func inventoryCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "inventory",
		Short: "Print the stock level of every product in the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runInventory(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}
}

func runInventory(ctx context.Context, out io.Writer, cfg config.Config) error {
	gateway, closeGateway, err := openGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeGateway()

	snap, err := gateway.Load(ctx)
	if err != nil {
		return err
	}
	return printInventory(out, snap)
}

func printInventory(out io.Writer, snap snapshot.Snapshot) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PRODUCT\tPRICE\tAVAILABLE")
	for _, p := range snap.Products {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\n", p.Name, p.Price, len(snap.Pools[p.Name]))
	}
	return tw.Flush()
}
