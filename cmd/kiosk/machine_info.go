package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/boothflow/internal/config"
	"github.com/imrishuroy/boothflow/internal/logger"
)

func machineInfoCmd() *cobra.Command {
	var machineID string
	cmd := &cobra.Command{
		Use:   "machine-info",
		Short: "Print this machine's configuration from the back office",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if machineID == "" {
				machineID = cfg.MachineID
			}
			log := logger.New(cfg.Log.Level, cfg.Log.Format).WithField("machine_id", machineID)

			info, err := newBackoffice(cfg, log).GetMachineInfo(cmd.Context(), machineID)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(map[string]interface{}{
				"machine_id":       machineID,
				"name":             info.Name,
				"price":            info.Price.String(),
				"server_key_set":   info.ServerKey != "",
				"product_image":    info.ProductImage,
				"background_image": info.BackgroundImage,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&machineID, "machine-id", "", "machine to look up (default from config)")
	return cmd
}
