package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MiracleAig/IoT-WebUI/internal/database"
	"github.com/MiracleAig/IoT-WebUI/internal/service"
	"github.com/MiracleAig/IoT-WebUI/internal/source"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <barcode>",
	Short: "Resolve a barcode through the cache and print the product as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.NewSQLiteDB(cfg.Database.Path, log)
		if err != nil {
			return err
		}
		defer db.Close()

		src, err := source.New(cfg.Source)
		if err != nil {
			return err
		}

		p, err := service.NewProductResolver(db, src, log, nil).Resolve(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("lookup %q: %w", args[0], err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}
