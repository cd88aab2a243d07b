package shardroute

import (
	"fmt"
	"sync"
)

// ShardingRule 数据分片规则, exactly one per logical entity
type ShardingRule struct {
	// 候选数据源
	Datasources []string `json:"datasources" yaml:"datasources"`
	// e.g. "ds-" + (userId % 1024 / 64)
	DatabaseRule string `json:"database-rule" yaml:"databaseRule"`
	// e.g. "trade_order_" + (userId % 1024 % 64)
	TableRule string `json:"table-rule" yaml:"tableRule"`
	// placeholder used by both expressions
	ShardingKey string `json:"sharding-key" yaml:"shardingKey"`
	// location of the query definition resource
	QueryDefinition string `json:"query-definition" yaml:"queryDefinition"`
}

// Sharded reports whether either axis carries a rule.
func (r ShardingRule) Sharded() bool {
	return r.DatabaseRule != "" || r.TableRule != ""
}

// TableSharded reports whether a table id is computed per call.
func (r ShardingRule) TableSharded() bool {
	return r.TableRule != ""
}

func (r ShardingRule) hasDatasource(name string) bool {
	for _, ds := range r.Datasources {
		if ds == name {
			return true
		}
	}
	return false
}

// validate checks the rule against the evaluator, without datasources.
func (r ShardingRule) validate(entity string, ev *Evaluator) error {
	if len(r.Datasources) == 0 {
		return fmt.Errorf("%w: entity %s has no datasource", ErrConfiguration, entity)
	}
	seen := make(map[string]struct{}, len(r.Datasources))
	for _, ds := range r.Datasources {
		if _, ok := seen[ds]; ok {
			return fmt.Errorf("%w: entity %s lists datasource %s twice", ErrConfiguration, entity, ds)
		}
		seen[ds] = struct{}{}
	}
	if r.DatabaseRule == "" && len(r.Datasources) > 1 {
		return fmt.Errorf("%w: entity %s has %d datasources but no database rule", ErrConfiguration, entity, len(r.Datasources))
	}
	if r.Sharded() && r.ShardingKey == "" {
		return fmt.Errorf("%w: entity %s has a rule but no sharding key", ErrConfiguration, entity)
	}
	for _, expr := range []string{r.DatabaseRule, r.TableRule} {
		if expr == "" {
			continue
		}
		if err := ev.Validate(expr, r.ShardingKey); err != nil {
			return fmt.Errorf("entity %s: %w", entity, err)
		}
	}
	return nil
}

// Entity a logical entity and its rule. Immutable after registration
// except for the key locator cache.
type Entity struct {
	Name string
	Rule ShardingRule

	locators   map[string]KeyLocator
	signatures sync.Map
}

// NewEntity builds an entity. Locators pin the key position per operation;
// operations without one fall back to scanning the arguments.
func NewEntity(name string, rule ShardingRule, locators map[string]KeyLocator) *Entity {
	e := &Entity{Name: name, Rule: rule, locators: make(map[string]KeyLocator, len(locators))}
	for op, loc := range locators {
		e.locators[op] = loc
	}
	return e
}
