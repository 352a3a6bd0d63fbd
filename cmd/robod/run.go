package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/najoast/robo/bootstrap"
	"github.com/najoast/robo/config"
	"github.com/najoast/robo/logging"
	"github.com/najoast/robo/units"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the configured units and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, loader, err := loadConfig(v)
			if err != nil {
				return err
			}

			logger, closer, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer closer.Close()

			opts := []bootstrap.Option{bootstrap.WithLogger(logger)}
			if path := v.GetString("config"); path != "" && v.GetBool("watch") {
				provider, err := config.NewFileProvider(path, loader, logger)
				if err != nil {
					return err
				}
				opts = append(opts, bootstrap.WithProvider(provider))
			}

			app, err := bootstrap.New(cfg, units.NewRegistry(), opts...)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}

	cmd.Flags().Bool("watch", false, "reload units when the config file changes")
	_ = v.BindPFlag("watch", cmd.Flags().Lookup("watch"))
	return cmd
}
