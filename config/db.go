package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	// pure go sqlite driver, registered as "sqlite"
	_ "modernc.org/sqlite"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid sharding configuration")

const (
	MySQL    = "mysql"
	Postgres = "postgres"
	SQLite   = "sqlite"
)

const (
	DefaultConnectionTimeout   = 2 * time.Second
	DefaultIdleTimeout         = 2 * time.Second
	DefaultConnectionTestQuery = "SELECT 1"
	DefaultMaximumPoolSize     = 10
	DefaultSlowThreshold       = 200 * time.Millisecond
)

// Config 分库分表配置
type Config struct {
	Datasource DatasourceList `yaml:"datasource"`
	Entities   []Entity       `yaml:"entities"`
	Orm        Orm            `yaml:"orm"`
	// 打印路由信息
	Trace bool `yaml:"trace"`
}

// Orm orm global config, applied to every datasource
type Orm struct {
	Debug         bool          `yaml:"debug"`
	TablePrefix   string        `yaml:"tablePrefix"`
	SingularTable bool          `yaml:"singularTable"`
	PrepareStmt   bool          `yaml:"prepareStmt"`
	SlowThreshold time.Duration `yaml:"slowThreshold"`
}

type DatasourceList struct {
	List []DataSource `yaml:"list"`
}

// DataSource one shard's pool. Name is the registry key and must be unique.
type DataSource struct {
	Name                string        `yaml:"name"`
	Type                string        `yaml:"type"`
	URL                 string        `yaml:"url"`
	Username            string        `yaml:"username"`
	Password            string        `yaml:"password"`
	MaximumPoolSize     int           `yaml:"maximumPoolSize"`
	MaximumIdle         int           `yaml:"maximumIdle"`
	ConnectionTestQuery string        `yaml:"connectionTestQuery"`
	ConnectionTimeout   time.Duration `yaml:"connectionTimeout"`
	IdleTimeout         time.Duration `yaml:"idleTimeout"`
	MaxLifetime         time.Duration `yaml:"maxLifetime"`
}

// Entity a sharding rule declared in configuration.
type Entity struct {
	Name            string   `yaml:"name"`
	Datasources     []string `yaml:"datasources"`
	DatabaseRule    string   `yaml:"databaseRule"`
	TableRule       string   `yaml:"tableRule"`
	ShardingKey     string   `yaml:"shardingKey"`
	QueryDefinition string   `yaml:"queryDefinition"`
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Enabled an empty datasource list means sharding stays dormant.
func (c *Config) Enabled() bool {
	return c != nil && len(c.Datasource.List) > 0
}

func (c *Config) SetDefaults() {
	if c.Orm.SlowThreshold == 0 {
		c.Orm.SlowThreshold = DefaultSlowThreshold
	}
	for i := range c.Datasource.List {
		c.Datasource.List[i].SetDefaults()
	}
}

func (c *Config) Validate() error {
	names := make(map[string]struct{}, len(c.Datasource.List))
	for _, ds := range c.Datasource.List {
		if err := ds.Validate(); err != nil {
			return err
		}
		if _, ok := names[ds.Name]; ok {
			return fmt.Errorf("%w: duplicate datasource %s", ErrInvalid, ds.Name)
		}
		names[ds.Name] = struct{}{}
	}
	entities := make(map[string]struct{}, len(c.Entities))
	for _, e := range c.Entities {
		if e.Name == "" {
			return fmt.Errorf("%w: entity without name", ErrInvalid)
		}
		if _, ok := entities[e.Name]; ok {
			return fmt.Errorf("%w: duplicate entity %s", ErrInvalid, e.Name)
		}
		entities[e.Name] = struct{}{}
		for _, ds := range e.Datasources {
			if _, ok := names[ds]; !ok {
				return fmt.Errorf("%w: entity %s references unknown datasource %s", ErrInvalid, e.Name, ds)
			}
		}
	}
	return nil
}

// GormConfig 默认的gorm配置. When l is nil statements are logged to stdout,
// at info level in debug mode and warn level otherwise.
func (c *Config) GormConfig(l logger.Interface) *gorm.Config {
	if l == nil {
		level := logger.Warn
		if c.Orm.Debug {
			level = logger.Info
		}
		l = logger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
			logger.Config{
				SlowThreshold:             c.Orm.SlowThreshold,
				LogLevel:                  level,
				IgnoreRecordNotFoundError: true,
				Colorful:                  true,
			},
		)
	}
	return &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   c.Orm.TablePrefix,
			SingularTable: c.Orm.SingularTable,
		},
		Logger:      l,
		PrepareStmt: c.Orm.PrepareStmt,
	}
}

func (ds *DataSource) SetDefaults() {
	if ds.ConnectionTimeout == 0 {
		ds.ConnectionTimeout = DefaultConnectionTimeout
	}
	if ds.IdleTimeout == 0 {
		ds.IdleTimeout = DefaultIdleTimeout
	}
	if ds.ConnectionTestQuery == "" {
		ds.ConnectionTestQuery = DefaultConnectionTestQuery
	}
	if ds.MaximumPoolSize == 0 {
		ds.MaximumPoolSize = DefaultMaximumPoolSize
	}
}

func (ds DataSource) Validate() error {
	if ds.Name == "" {
		return fmt.Errorf("%w: datasource without name", ErrInvalid)
	}
	if ds.URL == "" {
		return fmt.Errorf("%w: datasource %s has no url", ErrInvalid, ds.Name)
	}
	switch strings.ToLower(ds.Type) {
	case MySQL, Postgres, SQLite:
	default:
		return fmt.Errorf("%w: datasource %s has unsupported type %q", ErrInvalid, ds.Name, ds.Type)
	}
	if ds.MaximumPoolSize < 0 || ds.MaximumIdle < 0 {
		return fmt.Errorf("%w: datasource %s has a negative pool bound", ErrInvalid, ds.Name)
	}
	return nil
}

// OpenDialector builds the gorm dialector for ds, folding credentials and
// the connect timeout into the driver configuration.
func OpenDialector(ds DataSource) (gorm.Dialector, error) {
	switch strings.ToLower(ds.Type) {
	case MySQL:
		cfg, err := mysqldriver.ParseDSN(ds.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: datasource %s: %v", ErrInvalid, ds.Name, err)
		}
		if ds.Username != "" {
			cfg.User = ds.Username
		}
		if ds.Password != "" {
			cfg.Passwd = ds.Password
		}
		cfg.Timeout = ds.ConnectionTimeout
		return mysql.New(mysql.Config{DSN: cfg.FormatDSN()}), nil
	case Postgres:
		cfg, err := pgx.ParseConfig(ds.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: datasource %s: %v", ErrInvalid, ds.Name, err)
		}
		if ds.Username != "" {
			cfg.User = ds.Username
		}
		if ds.Password != "" {
			cfg.Password = ds.Password
		}
		cfg.ConnectTimeout = ds.ConnectionTimeout
		return postgres.New(postgres.Config{Conn: stdlib.OpenDB(*cfg)}), nil
	case SQLite:
		return &sqlite.Dialector{DriverName: "sqlite", DSN: ds.URL}, nil
	}
	return nil, fmt.Errorf("%w: datasource %s has unsupported type %q", ErrInvalid, ds.Name, ds.Type)
}
