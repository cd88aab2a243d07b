package shardroute

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm/shardroute/config"
)

// sqliteShards one sqlite file per shard name, in a temp dir
func sqliteShards(t *testing.T, names ...string) []config.DataSource {
	t.Helper()
	dir := t.TempDir()
	list := make([]config.DataSource, 0, len(names))
	for _, name := range names {
		list = append(list, config.DataSource{
			Name: name,
			Type: config.SQLite,
			URL:  filepath.Join(dir, name+".db") + "?_pragma=busy_timeout(5000)",
		})
	}
	return list
}

func openShards(t *testing.T, names ...string) *DatasourceRegistry {
	t.Helper()
	r, err := OpenDatasources(sqliteShards(t, names...), &gorm.Config{Logger: logger.Discard}, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// execAll runs ddl on every shard
func execAll(t *testing.T, r *DatasourceRegistry, ddl ...string) {
	t.Helper()
	require.NoError(t, r.ForEach(func(name string, ds *Datasource) error {
		for _, stmt := range ddl {
			if err := ds.DB.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return nil
	}))
}
