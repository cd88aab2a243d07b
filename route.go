package shardroute

import (
	"context"
	"time"

	"gorm.io/gorm/logger"
)

// DescriptorResolver resolves the descriptor of an entity on a shard.
type DescriptorResolver interface {
	Resolve(ctx context.Context, key ResourceKey, entity *Entity) (*Descriptor, error)
}

var _ DescriptorResolver = (*ResourceRegistry)(nil)

// Dispatcher 核心调用逻辑: 计算数据源、表名，找到对应descriptor，调用对应方法
type Dispatcher struct {
	Keys      KeyExtractor
	DbPolicy  DbPolicy
	TbPolicy  TbPolicy
	Resources DescriptorResolver
	Logger    logger.Interface

	metrics *metrics
}

// NewDispatcher wires the default capabilities around evaluator and resources.
func NewDispatcher(evaluator RuleEvaluator, resources DescriptorResolver, log logger.Interface) *Dispatcher {
	if log == nil {
		log = logger.Default
	}
	return &Dispatcher{
		Keys:      MarkerExtractor{},
		DbPolicy:  DbShardingRoutePolicy{Evaluator: evaluator},
		TbPolicy:  TbShardingRoutePolicy{Evaluator: evaluator},
		Resources: resources,
		Logger:    log,
	}
}

// Route computes where a call for entity would go without running it.
func (d *Dispatcher) Route(ctx context.Context, entity *Entity, key int64) (Route, error) {
	ds, err := d.DbPolicy.Resolve(ctx, entity, key, d.Logger)
	if err != nil {
		return Route{}, err
	}
	table, err := d.TbPolicy.Resolve(ctx, entity, key, d.Logger)
	if err != nil {
		return Route{}, err
	}
	return Route{Entity: entity.Name, Datasource: ds, Table: table}, nil
}

// Dispatch routes op of a sharded entity to its shard. When a table id is
// computed it becomes the first argument; the delegate's result and error
// are returned untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, entity *Entity, op string, args ...any) (result any, err error) {
	key, err := d.Keys.ExtractKey(entity, op, args)
	if err != nil {
		return nil, err
	}
	route, err := d.Route(ctx, entity, key)
	if err != nil {
		return nil, err
	}
	begin := time.Now()
	defer func() {
		d.metrics.dispatched(entity.Name, route.Datasource, begin, err)
	}()

	resourceKey := ResourceKey{Shard: route.Datasource, Name: BuildName(route.Datasource, entity.Name)}
	descriptor, err := d.Resources.Resolve(ctx, resourceKey, entity)
	if err != nil {
		return nil, err
	}
	fn, err := descriptor.Operation(op)
	if err != nil {
		return nil, err
	}
	if route.Table != "" {
		built := make([]any, len(args)+1)
		built[0] = route.Table
		copy(built[1:], args)
		args = built
	}
	return fn(WithRoute(ctx, route), args...)
}
