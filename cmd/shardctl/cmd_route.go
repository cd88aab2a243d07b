package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm/shardroute"
	"gorm/shardroute/config"
)

var (
	routeEntity string
	routeKey    int64
)

// routeCmd resolves datasource and table for a key without opening any
// datasource
var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Show where a key of an entity is stored",
	Example: `  shardctl route -c sharding.yaml --entity Order --key 130`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		var found *config.Entity
		for i := range cfg.Entities {
			if cfg.Entities[i].Name == routeEntity {
				found = &cfg.Entities[i]
				break
			}
		}
		if found == nil {
			return fmt.Errorf("%w: %s is not configured", shardroute.ErrIllegalEntity, routeEntity)
		}

		ev := shardroute.NewEvaluator()
		for _, expr := range []string{found.DatabaseRule, found.TableRule} {
			if expr == "" {
				continue
			}
			if err := ev.Validate(expr, found.ShardingKey); err != nil {
				return err
			}
		}
		entity := shardroute.NewEntity(found.Name, shardroute.ShardingRule{
			Datasources:     found.Datasources,
			DatabaseRule:    found.DatabaseRule,
			TableRule:       found.TableRule,
			ShardingKey:     found.ShardingKey,
			QueryDefinition: found.QueryDefinition,
		}, nil)
		d := shardroute.NewDispatcher(ev, nil, newGormLogger(logger))
		route, err := d.Route(cmd.Context(), entity, routeKey)
		if err != nil {
			return err
		}
		logger.Debug("route resolved", zap.String("entity", routeEntity), zap.Int64("key", routeKey), zap.Stringer("route", route))

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "datasource: %s\n", route.Datasource)
		if route.Table != "" {
			fmt.Fprintf(out, "table: %s\n", route.Table)
		}
		fmt.Fprintf(out, "descriptor: %s\n", shardroute.BuildName(route.Datasource, entity.Name))
		return nil
	},
}

func init() {
	routeCmd.Flags().StringVar(&routeEntity, "entity", "", "Logical entity name")
	routeCmd.Flags().Int64Var(&routeKey, "key", 0, "Sharding key value")
	_ = routeCmd.MarkFlagRequired("entity")
}
