package shardroute

import (
	"context"
	"fmt"

	"gorm.io/gorm/logger"
)

// DbPolicy Data Source Routing Policy
type DbPolicy interface {
	Resolve(ctx context.Context, entity *Entity, key int64, log logger.Interface) (string, error)
}

// DbShardingRoutePolicy 分库路由
//
// Without a database rule the entity's single datasource is used. A rule
// result outside the entity's datasource list is an unknown shard.
type DbShardingRoutePolicy struct {
	Evaluator RuleEvaluator
}

func (p DbShardingRoutePolicy) Resolve(ctx context.Context, entity *Entity, key int64, log logger.Interface) (string, error) {
	rule := entity.Rule
	if rule.DatabaseRule == "" {
		if len(rule.Datasources) == 0 {
			return "", fmt.Errorf("%w: entity %s has no datasource", ErrConfiguration, entity.Name)
		}
		return rule.Datasources[0], nil
	}
	ds, err := p.Evaluator.Evaluate(rule.DatabaseRule, rule.ShardingKey, key)
	if err != nil {
		return "", fmt.Errorf("entity %s: %w", entity.Name, err)
	}
	if !rule.hasDatasource(ds) {
		return "", fmt.Errorf("%w: entity %s resolved datasource %q outside %v", ErrUnknownShard, entity.Name, ds, rule.Datasources)
	}
	log.Info(ctx, "database sharding: %s -> %v", entity.Name, ds)
	return ds, nil
}
