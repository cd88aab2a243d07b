package shardroute

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const usingName = "gorm:shard_route:using"

// Use pins a gorm statement to r: the statement context carries the route
// for trace logging and, for table sharded entities, the physical table
// replaces the model's table.
func Use(r Route) clause.Expression {
	return using{route: r}
}

type using struct {
	route Route
}

// ModifyStatement modify statement table and context
func (u using) ModifyStatement(stmt *gorm.Statement) {
	stmt.Clauses[usingName] = clause.Clause{Expression: u}
	if u.route.Table != "" {
		stmt.Table = u.route.Table
	}
	if stmt.Context != nil {
		stmt.Context = WithRoute(stmt.Context, u.route)
	}
}

// Build implements clause.Expression interface
func (u using) Build(clause.Builder) {
}
