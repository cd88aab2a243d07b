package shardroute

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type routeKey struct{}

// Route the routing decision of one call, carried on the context.
type Route struct {
	Entity     string
	Datasource string
	Table      string
}

func (r Route) String() string {
	if r.Table == "" {
		return r.Datasource
	}
	return r.Datasource + "/" + r.Table
}

// WithRoute records a routing decision on ctx.
func WithRoute(ctx context.Context, r Route) context.Context {
	return context.WithValue(ctx, routeKey{}, r)
}

// RouteFromContext returns the routing decision recorded on ctx.
func RouteFromContext(ctx context.Context) (Route, bool) {
	r, ok := ctx.Value(routeKey{}).(Route)
	return r, ok
}

type traceLogger struct {
	logger.Interface
}

// Trace prefixes the statement with the shard it ran on.
func (l traceLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	var splitFn = func() (sql string, rowsAffected int64) {
		sql, rowsAffected = fc()
		if r, ok := RouteFromContext(ctx); ok {
			sql = fmt.Sprintf("[%s] %s", r, sql)
		}
		return
	}
	l.Interface.Trace(ctx, begin, splitFn, err)
}

// LogMode keeps the wrapper when the level changes.
func (l traceLogger) LogMode(level logger.LogLevel) logger.Interface {
	return traceLogger{Interface: l.Interface.LogMode(level)}
}

// NewTraceLogger wraps l so every statement is prefixed with its route.
func NewTraceLogger(l logger.Interface) logger.Interface {
	if l == nil {
		l = logger.Default
	}
	if _, ok := l.(traceLogger); ok {
		return l
	}
	return traceLogger{Interface: l}
}

// markStmtRoute tags the statement context with shard when the routing
// layer did not already do it.
func markStmtRoute(stmt *gorm.Statement, shard string) {
	if stmt.Context == nil {
		stmt.Context = context.Background()
	}
	if _, ok := RouteFromContext(stmt.Context); ok {
		return
	}
	stmt.Context = WithRoute(stmt.Context, Route{Datasource: shard})
}
