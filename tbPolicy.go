package shardroute

import (
	"context"
	"fmt"

	"gorm.io/gorm/logger"
)

// TbPolicy Table Routing Policy, "" means the table does not vary
type TbPolicy interface {
	Resolve(ctx context.Context, entity *Entity, key int64, log logger.Interface) (string, error)
}

// TbShardingRoutePolicy 分表路由
type TbShardingRoutePolicy struct {
	Evaluator RuleEvaluator
}

func (p TbShardingRoutePolicy) Resolve(ctx context.Context, entity *Entity, key int64, log logger.Interface) (string, error) {
	rule := entity.Rule
	if rule.TableRule == "" {
		return "", nil
	}
	// 解析得到真正的表名
	actualTableName, err := p.Evaluator.Evaluate(rule.TableRule, rule.ShardingKey, key)
	if err != nil {
		return "", fmt.Errorf("entity %s: %w", entity.Name, err)
	}
	if actualTableName == "" {
		return "", fmt.Errorf("%w: entity %s table rule produced an empty name", ErrRuleEvaluation, entity.Name)
	}
	log.Info(ctx, "table sharding: %s -> %v", entity.Name, actualTableName)
	return actualTableName, nil
}
