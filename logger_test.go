package shardroute

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// captureLogger records every traced statement
type captureLogger struct {
	mu   sync.Mutex
	sqls []string
}

func (c *captureLogger) LogMode(logger.LogLevel) logger.Interface       { return c }
func (c *captureLogger) Info(context.Context, string, ...interface{})  {}
func (c *captureLogger) Warn(context.Context, string, ...interface{})  {}
func (c *captureLogger) Error(context.Context, string, ...interface{}) {}

func (c *captureLogger) Trace(_ context.Context, _ time.Time, fc func() (string, int64), _ error) {
	sql, _ := fc()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sqls = append(c.sqls, sql)
}

func (c *captureLogger) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sqls) == 0 {
		return ""
	}
	return c.sqls[len(c.sqls)-1]
}

func TestTraceLogger(t *testing.T) {
	capture := &captureLogger{}
	shards, err := OpenDatasources(sqliteShards(t, "ds-0", "ds-1"), &gorm.Config{Logger: capture}, true)
	require.NoError(t, err)
	defer shards.Close()

	ds, err := shards.Get("ds-1")
	require.NoError(t, err)
	require.NoError(t, ds.DB.Exec("CREATE TABLE trade_order_3 (id INTEGER PRIMARY KEY, user_id INTEGER, amount INTEGER)").Error)
	// statements outside routing are tagged with their shard
	assert.True(t, strings.HasPrefix(capture.last(), "[ds-1] CREATE TABLE"), capture.last())

	r, err := New(shards, Options{Logger: logger.Discard, FS: definitions()})
	require.NoError(t, err)
	_, err = r.Register("Order", orderRule, nil)
	require.NoError(t, err)

	_, err = r.Call(context.Background(), "Order", "insert", int64(1), Key(131), int64(5))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(capture.last(), "[ds-1/trade_order_3] insert into trade_order_3"), capture.last())
}

func TestNewTraceLogger(t *testing.T) {
	l := NewTraceLogger(nil)
	_, ok := l.(traceLogger)
	assert.True(t, ok)
	// wrapping twice keeps a single prefix
	assert.Equal(t, l, NewTraceLogger(l))
	_, ok = l.LogMode(logger.Silent).(traceLogger)
	assert.True(t, ok)
}

func TestRouteContext(t *testing.T) {
	_, ok := RouteFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithRoute(context.Background(), Route{Entity: "Order", Datasource: "ds-0", Table: "trade_order_1"})
	r, ok := RouteFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "ds-0/trade_order_1", r.String())
	assert.Equal(t, "ds-0", Route{Datasource: "ds-0"}.String())
}
