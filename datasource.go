package shardroute

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm/shardroute/config"
)

// Datasource one shard's connection pool.
type Datasource struct {
	Name   string
	DB     *gorm.DB
	config config.DataSource
}

// NewDatasource wraps an already opened gorm DB.
func NewDatasource(name string, db *gorm.DB, cfg config.DataSource) *Datasource {
	cfg.Name = name
	cfg.SetDefaults()
	return &Datasource{Name: name, DB: db, config: cfg}
}

func (d *Datasource) Config() config.DataSource {
	return d.config
}

// Ping runs the connection test query within the connection timeout.
func (d *Datasource) Ping(ctx context.Context) error {
	if d.config.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.ConnectionTimeout)
		defer cancel()
	}
	if err := d.DB.WithContext(ctx).Exec(d.config.ConnectionTestQuery).Error; err != nil {
		return fmt.Errorf("datasource %s: health check: %w", d.Name, err)
	}
	return nil
}

func (d *Datasource) close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DatasourceRegistry 管理所有的datasource, immutable once built.
type DatasourceRegistry struct {
	datasources map[string]*Datasource
	names       []string
}

// NewDatasourceRegistry builds a registry from opened datasources.
func NewDatasourceRegistry(datasources ...*Datasource) (*DatasourceRegistry, error) {
	r := &DatasourceRegistry{datasources: make(map[string]*Datasource, len(datasources))}
	for _, ds := range datasources {
		if _, ok := r.datasources[ds.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate datasource %s", ErrConfiguration, ds.Name)
		}
		r.datasources[ds.Name] = ds
		r.names = append(r.names, ds.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// OpenDatasources opens one pool per entry. Each shard gets its own copy of
// gormConfig; when trace is set statements are tagged with their shard.
func OpenDatasources(list []config.DataSource, gormConfig *gorm.Config, trace bool) (*DatasourceRegistry, error) {
	if gormConfig == nil {
		gormConfig = &gorm.Config{}
	}
	opened := make([]*Datasource, 0, len(list))
	closeAll := func() {
		for _, ds := range opened {
			_ = ds.close()
		}
	}
	for _, cfg := range list {
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			closeAll()
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		dialector, err := config.OpenDialector(cfg)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		c := *gormConfig
		if trace {
			c.Logger = NewTraceLogger(c.Logger)
		}
		db, err := gorm.Open(dialector, &c)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("%w: open datasource %s: %w", ErrConfiguration, cfg.Name, err)
		}
		if trace {
			if err := db.Use(&shardMarker{shard: cfg.Name}); err != nil {
				_ = (&Datasource{DB: db}).close()
				closeAll()
				return nil, fmt.Errorf("%w: datasource %s: %w", ErrConfiguration, cfg.Name, err)
			}
		}
		configurePool(db.Config.ConnPool, cfg)
		opened = append(opened, &Datasource{Name: cfg.Name, DB: db, config: cfg})
		db.Logger.Info(context.Background(), "datasource:%s of type:%s created", cfg.Name, cfg.Type)
	}
	r, err := NewDatasourceRegistry(opened...)
	if err != nil {
		closeAll()
		return nil, err
	}
	return r, nil
}

// Get returns the datasource registered under shardID.
func (r *DatasourceRegistry) Get(shardID string) (*Datasource, error) {
	if ds, ok := r.datasources[shardID]; ok {
		return ds, nil
	}
	return nil, fmt.Errorf("%w: datasource %q", ErrUnknownShard, shardID)
}

// Has reports whether shardID is registered.
func (r *DatasourceRegistry) Has(shardID string) bool {
	_, ok := r.datasources[shardID]
	return ok
}

// Names sorted shard ids
func (r *DatasourceRegistry) Names() []string {
	return append([]string(nil), r.names...)
}

func (r *DatasourceRegistry) Len() int {
	return len(r.names)
}

// ForEach visits every datasource in name order, stopping at the first error.
func (r *DatasourceRegistry) ForEach(fc func(name string, ds *Datasource) error) error {
	for _, name := range r.names {
		if err := fc(name, r.datasources[name]); err != nil {
			return err
		}
	}
	return nil
}

// HealthCheck pings every datasource concurrently.
func (r *DatasourceRegistry) HealthCheck(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range r.names {
		ds := r.datasources[name]
		g.Go(func() error {
			return ds.Ping(ctx)
		})
	}
	return g.Wait()
}

// Close closes every pool.
func (r *DatasourceRegistry) Close() error {
	var errs []error
	for _, name := range r.names {
		if err := r.datasources[name].close(); err != nil {
			errs = append(errs, fmt.Errorf("close datasource %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
