package shardroute

import (
	"context"
	"fmt"
	"io/fs"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm/shardroute/config"
)

// Options for New and Open. The zero value logs through gorm's default
// logger, records no metrics and generates descriptors from SQL query
// definitions read from the OS.
type Options struct {
	Logger     logger.Interface
	Registerer prometheus.Registerer
	Generator  Generator
	// FS resolves query definition locations for the default generator
	FS fs.FS
	// GormConfig template copied for every datasource opened by Open,
	// built from the configuration's orm section when nil
	GormConfig *gorm.Config
}

// Router the wiring root: datasources, rule evaluation, descriptor cache,
// dispatcher and transaction router, built once at startup.
type Router struct {
	datasources  *DatasourceRegistry
	evaluator    *Evaluator
	resources    *ResourceRegistry
	dispatcher   *Dispatcher
	transactions *TxRouter
	logger       logger.Interface

	mu       sync.RWMutex
	entities map[string]*Entity
}

// New wires a Router over already opened datasources.
func New(datasources *DatasourceRegistry, opts Options) (*Router, error) {
	if datasources == nil {
		datasources, _ = NewDatasourceRegistry()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default
	}
	generator := opts.Generator
	if generator == nil {
		generator = &SQLGenerator{Datasources: datasources, FS: opts.FS}
	}
	var m *metrics
	if opts.Registerer != nil {
		var err error
		if m, err = newMetrics(opts.Registerer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	evaluator := NewEvaluator()
	resources := NewResourceRegistry(generator)
	resources.metrics = m
	dispatcher := NewDispatcher(evaluator, resources, log)
	dispatcher.metrics = m
	return &Router{
		datasources:  datasources,
		evaluator:    evaluator,
		resources:    resources,
		dispatcher:   dispatcher,
		transactions: NewTxRouter(datasources, evaluator),
		logger:       log,
		entities:     map[string]*Entity{},
	}, nil
}

// Open opens every configured datasource and registers the configured
// entities. An empty datasource list yields a dormant Router.
func Open(cfg *config.Config, opts Options) (*Router, error) {
	if !cfg.Enabled() {
		return New(nil, opts)
	}
	gormConfig := opts.GormConfig
	if gormConfig == nil {
		gormConfig = cfg.GormConfig(opts.Logger)
	}
	datasources, err := OpenDatasources(cfg.Datasource.List, gormConfig, cfg.Trace)
	if err != nil {
		return nil, err
	}
	r, err := New(datasources, opts)
	if err != nil {
		_ = datasources.Close()
		return nil, err
	}
	for _, e := range cfg.Entities {
		rule := ShardingRule{
			Datasources:     e.Datasources,
			DatabaseRule:    e.DatabaseRule,
			TableRule:       e.TableRule,
			ShardingKey:     e.ShardingKey,
			QueryDefinition: e.QueryDefinition,
		}
		if _, err := r.Register(e.Name, rule, nil); err != nil {
			_ = datasources.Close()
			return nil, err
		}
	}
	return r, nil
}

// Enabled false when no datasource is configured
func (r *Router) Enabled() bool {
	return r.datasources.Len() > 0
}

// Register validates rule and adds the entity. Every datasource the rule
// names must be registered and both expressions must compile.
func (r *Router) Register(name string, rule ShardingRule, locators map[string]KeyLocator) (*Entity, error) {
	if !r.Enabled() {
		return nil, fmt.Errorf("%w: cannot register %s", ErrShardingDisabled, name)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: entity without name", ErrConfiguration)
	}
	if err := rule.validate(name, r.evaluator); err != nil {
		return nil, err
	}
	for _, ds := range rule.Datasources {
		if !r.datasources.Has(ds) {
			return nil, fmt.Errorf("%w: entity %s: %w: %s", ErrConfiguration, name, ErrUnknownShard, ds)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[name]; ok {
		return nil, fmt.Errorf("%w: entity %s registered twice", ErrConfiguration, name)
	}
	e := NewEntity(name, rule, locators)
	r.entities[name] = e
	r.logger.Info(context.Background(), "entity %s registered, sharded: %v", name, rule.Sharded())
	return e, nil
}

// Entity looks up a registered entity.
func (r *Router) Entity(name string) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entities[name]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s is not registered", ErrIllegalEntity, name)
}

// Mapper returns the call surface of a registered entity.
func (r *Router) Mapper(name string) (*Mapper, error) {
	e, err := r.Entity(name)
	if err != nil {
		return nil, err
	}
	return &Mapper{router: r, entity: e}, nil
}

// Call runs op of the named entity.
func (r *Router) Call(ctx context.Context, entity, op string, args ...any) (any, error) {
	m, err := r.Mapper(entity)
	if err != nil {
		return nil, err
	}
	return m.Call(ctx, op, args...)
}

// Route reports where key of the named entity is stored.
func (r *Router) Route(ctx context.Context, entity string, key int64) (Route, error) {
	e, err := r.Entity(entity)
	if err != nil {
		return Route{}, err
	}
	return r.dispatcher.Route(ctx, e, key)
}

// Session returns a gorm handle on the shard owning key, pinned to its
// physical table, for statements outside the entity's query definition.
// A transaction bound to ctx for that shard is joined.
func (r *Router) Session(ctx context.Context, entity string, key int64) (*gorm.DB, Route, error) {
	route, err := r.Route(ctx, entity, key)
	if err != nil {
		return nil, Route{}, err
	}
	ds, err := r.datasources.Get(route.Datasource)
	if err != nil {
		return nil, Route{}, err
	}
	db := ds.DB
	if tx, ok := TxFromContext(ctx, route.Datasource); ok {
		db = tx
	}
	return db.WithContext(ctx).Clauses(Use(route)).Session(&gorm.Session{}), route, nil
}

// Transactions 事务路由
func (r *Router) Transactions() *TxRouter {
	return r.transactions
}

// TransactionFor resolves the transaction manager owning key of entity.
func (r *Router) TransactionFor(entity string, key int64) (*TxManager, error) {
	e, err := r.Entity(entity)
	if err != nil {
		return nil, err
	}
	return r.transactions.ForEntity(e, key)
}

func (r *Router) Datasources() *DatasourceRegistry {
	return r.datasources
}

func (r *Router) Evaluator() *Evaluator {
	return r.evaluator
}

func (r *Router) Dispatcher() *Dispatcher {
	return r.dispatcher
}

// Close closes every datasource.
func (r *Router) Close() error {
	return r.datasources.Close()
}

// Mapper the application facing surface of one logical entity.
type Mapper struct {
	router *Router
	entity *Entity
}

func (m *Mapper) Entity() *Entity {
	return m.entity
}

// Call routes op through the dispatcher when the entity is sharded. Other
// entities go straight to their single datasource.
func (m *Mapper) Call(ctx context.Context, op string, args ...any) (any, error) {
	if m.entity.Rule.Sharded() {
		return m.router.dispatcher.Dispatch(ctx, m.entity, op, args...)
	}
	ds := m.entity.Rule.Datasources[0]
	d, err := m.router.resources.Resolve(ctx, ResourceKey{Shard: ds, Name: m.entity.Name}, m.entity)
	if err != nil {
		return nil, err
	}
	fn, err := d.Operation(op)
	if err != nil {
		return nil, err
	}
	return fn(WithRoute(ctx, Route{Entity: m.entity.Name, Datasource: ds}), args...)
}
