package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm/shardroute"
	"gorm/shardroute/config"
)

// checkCmd opens every datasource, registers the configured entities and
// runs each datasource's connection test query
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Open and probe every configured datasource",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		gormLog := newGormLogger(logger)
		router, err := shardroute.Open(cfg, shardroute.Options{
			Logger:     gormLog,
			GormConfig: cfg.GormConfig(gormLog),
		})
		if err != nil {
			return err
		}
		defer router.Close()

		out := cmd.OutOrStdout()
		if !router.Enabled() {
			fmt.Fprintln(out, "sharding disabled: no datasource configured")
			return nil
		}
		ctx := cmd.Context()
		failed := 0
		_ = router.Datasources().ForEach(func(name string, ds *shardroute.Datasource) error {
			if err := ds.Ping(ctx); err != nil {
				failed++
				logger.Error("datasource check failed", zap.String("datasource", name), zap.Error(err))
				fmt.Fprintf(out, "%s\tFAIL\t%v\n", name, err)
				return nil
			}
			fmt.Fprintf(out, "%s\tOK\n", name)
			return nil
		})
		if failed > 0 {
			return fmt.Errorf("%d of %d datasources failed", failed, router.Datasources().Len())
		}
		return nil
	},
}
