package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/najoast/robo/bootstrap"
	"github.com/najoast/robo/logging"
	"github.com/najoast/robo/units"
)

func newValidateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and initialize every unit without starting it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(v)
			if err != nil {
				return err
			}

			app, err := bootstrap.New(cfg, units.NewRegistry(), bootstrap.WithLogger(logging.Discard()))
			if err != nil {
				return err
			}
			defer app.Shutdown(context.Background())

			order, err := app.Context().StartOrder()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: %d units\n", len(order))
			if len(order) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "start order: %s\n", strings.Join(order, " -> "))
			}
			return nil
		},
	}
}
