package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/boothflow/internal/backoffice"
	"github.com/imrishuroy/boothflow/internal/config"
	"github.com/imrishuroy/boothflow/internal/logger"
)

func activateCmd() *cobra.Command {
	var a backoffice.Activation
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Register this machine and its partner with the back office",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := logger.New(cfg.Log.Level, cfg.Log.Format).WithField("machine_id", cfg.MachineID)

			res, err := newBackoffice(cfg, log).ActivateMachine(cmd.Context(), cfg.MachineID, a)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(map[string]interface{}{
				"machine_id": cfg.MachineID,
				"record_id":  res.MachineID,
				"partner_id": res.PartnerID,
				"is_new":     res.IsNew,
				"message":    res.Message,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&a.Name, "name", "", "machine display name")
	f.StringVar(&a.PartnerName, "partner", "", "partner (venue operator) name")
	f.StringVar(&a.PartnerStreet, "street", "", "partner street")
	f.StringVar(&a.PartnerCity, "city", "", "partner city")
	f.StringVar(&a.PartnerZip, "zip", "", "partner postal code")
	f.StringVar(&a.PartnerPhone, "phone", "", "partner phone")
	f.StringVar(&a.PartnerEmail, "email", "", "partner email")
	f.IntVar(&a.PartnerStateID, "state-id", 0, "back-office state id")
	f.IntVar(&a.PartnerCountryID, "country-id", 0, "back-office country id")
	f.Float64Var(&a.Latitude, "lat", 0, "machine latitude")
	f.Float64Var(&a.Longitude, "lon", 0, "machine longitude")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("partner")
	return cmd
}
