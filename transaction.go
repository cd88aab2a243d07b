package shardroute

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

type txKey struct {
	shard string
}

// TxFromContext returns the transaction bound to shard on ctx, if any.
func TxFromContext(ctx context.Context, shard string) (*gorm.DB, bool) {
	tx, ok := ctx.Value(txKey{shard: shard}).(*gorm.DB)
	return tx, ok
}

// TxManager 单个数据源的事务管理器
type TxManager struct {
	shard string
	db    *gorm.DB
}

func (m *TxManager) Shard() string {
	return m.shard
}

// Transaction runs fn in a transaction on this shard. Operations dispatched
// to the same shard with the context passed to fn join the transaction.
// A nested call on the same shard uses a savepoint.
func (m *TxManager) Transaction(ctx context.Context, fn func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	db := m.db
	if tx, ok := TxFromContext(ctx, m.shard); ok {
		db = tx
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{shard: m.shard}, tx))
	}, opts...)
}

// Begin starts a transaction the caller must commit or roll back, and a
// context bound to it.
func (m *TxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (context.Context, *gorm.DB, error) {
	tx := m.db.WithContext(ctx).Begin(opts...)
	if tx.Error != nil {
		return ctx, nil, tx.Error
	}
	return context.WithValue(ctx, txKey{shard: m.shard}, tx), tx, nil
}

// TxRouter 分库分表情况下事务管理器, one TxManager per shard, built once.
type TxRouter struct {
	evaluator RuleEvaluator
	managers  map[string]*TxManager
}

func NewTxRouter(datasources *DatasourceRegistry, evaluator RuleEvaluator) *TxRouter {
	r := &TxRouter{evaluator: evaluator, managers: make(map[string]*TxManager, datasources.Len())}
	_ = datasources.ForEach(func(name string, ds *Datasource) error {
		r.managers[name] = &TxManager{shard: name, db: ds.DB}
		return nil
	})
	return r
}

// ForShard 对于可以明确是哪个datasource的来说，用这个就足以
func (r *TxRouter) ForShard(shard string) (*TxManager, error) {
	if m, ok := r.managers[shard]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: no transaction manager for %q", ErrUnknownShard, shard)
}

// ForRule 根据分库规则以及key计算出实际数据源
func (r *TxRouter) ForRule(dbRule, keyName string, key int64) (*TxManager, error) {
	shard, err := r.evaluator.Evaluate(dbRule, keyName, key)
	if err != nil {
		return nil, err
	}
	return r.ForShard(shard)
}

// ForEntity resolves the shard owning key for entity.
func (r *TxRouter) ForEntity(entity *Entity, key int64) (*TxManager, error) {
	if entity == nil {
		return nil, fmt.Errorf("%w: nil entity", ErrIllegalEntity)
	}
	if entity.Rule.DatabaseRule == "" {
		if len(entity.Rule.Datasources) == 0 {
			return nil, fmt.Errorf("%w: entity %s has no datasource", ErrIllegalEntity, entity.Name)
		}
		return r.ForShard(entity.Rule.Datasources[0])
	}
	shard, err := r.evaluator.Evaluate(entity.Rule.DatabaseRule, entity.Rule.ShardingKey, key)
	if err != nil {
		return nil, err
	}
	if !entity.Rule.hasDatasource(shard) {
		return nil, fmt.Errorf("%w: entity %s resolved datasource %q outside %v", ErrUnknownShard, entity.Name, shard, entity.Rule.Datasources)
	}
	return r.ForShard(shard)
}
