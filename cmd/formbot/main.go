package main

import (
	"context"
	"os"

	"github.com/m3rciful/formbot/core/bootstrap"
	corecmd "github.com/m3rciful/formbot/core/cmd"
	coreconfig "github.com/m3rciful/formbot/core/config"
	"github.com/m3rciful/formbot/internal/app"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		Use:               "formbot",
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "config.yaml",
		LoadConfig:        coreconfig.Load,
		Bootstrap: func(ctx context.Context, cfg *coreconfig.Config) (corecmd.App, error) {
			return app.New(ctx, cfg)
		},
		Migrate: func(cfg *coreconfig.Config) error {
			res, err := bootstrap.Run(bootstrap.Options{Config: cfg})
			if err != nil {
				return err
			}
			return res.Close()
		},
	})
	if err != nil {
		os.Exit(1)
	}
}
