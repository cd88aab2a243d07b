package shardroute

import (
	"time"

	"gorm.io/gorm"
	"gorm/shardroute/config"
)

// configurePool 配置连接池参数, zero values keep the driver defaults
func configurePool(connPool gorm.ConnPool, ds config.DataSource) {
	if preparedStmtDB, ok := connPool.(*gorm.PreparedStmtDB); ok {
		connPool = preparedStmtDB.ConnPool
	}
	pool, ok := connPool.(interface {
		SetMaxOpenConns(int)
		SetMaxIdleConns(int)
		SetConnMaxIdleTime(time.Duration)
		SetConnMaxLifetime(time.Duration)
	})
	if !ok {
		return
	}
	if ds.MaximumPoolSize != 0 {
		pool.SetMaxOpenConns(ds.MaximumPoolSize)
	}
	if ds.MaximumIdle != 0 {
		pool.SetMaxIdleConns(ds.MaximumIdle)
	}
	if ds.IdleTimeout != 0 {
		pool.SetConnMaxIdleTime(ds.IdleTimeout)
	}
	if ds.MaxLifetime != 0 {
		pool.SetConnMaxLifetime(ds.MaxLifetime)
	}
}
