package shardroute

import (
	"context"
	"fmt"
	"io/fs"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// SQLGenerator builds descriptors whose operations run the entity's query
// definition on the shard's pool, or on the shard transaction bound to
// the call context.
type SQLGenerator struct {
	Datasources *DatasourceRegistry
	// FS resolves query definition locations, nil reads from the OS
	FS fs.FS
}

func (g *SQLGenerator) Generate(_ context.Context, key ResourceKey, entity *Entity) (*Descriptor, error) {
	ds, err := g.Datasources.Get(key.Shard)
	if err != nil {
		return nil, err
	}
	if entity.Rule.QueryDefinition == "" {
		return nil, fmt.Errorf("entity %s has no query definition", entity.Name)
	}
	def, err := LoadQueryDefinition(g.FS, entity.Rule.QueryDefinition)
	if err != nil {
		return nil, err
	}
	if def.Namespace != entity.Name {
		return nil, fmt.Errorf("query definition %s belongs to %s, not %s", entity.Rule.QueryDefinition, def.Namespace, entity.Name)
	}
	tableArg := entity.Rule.TableSharded()
	operations := make(map[string]Operation, len(def.Operations))
	for name, source := range def.Operations {
		q, err := newQuery(ds, name, source, tableArg)
		if err != nil {
			return nil, fmt.Errorf("operation %s.%s: %w", entity.Name, name, err)
		}
		operations[name] = q.execute
	}
	return NewDescriptor(key, entity.Name, tableArg, operations), nil
}

type prepared struct {
	sql   string
	binds []string
}

// query one statement bound to a shard
type query struct {
	shard    string
	name     string
	source   string
	command  CommandType
	tableArg bool
	db       *gorm.DB

	plain  prepared
	tables sync.Map
}

func newQuery(ds *Datasource, name, source string, tableArg bool) (*query, error) {
	stmt, command, err := GetSqlCommandType(source)
	if err != nil {
		return nil, err
	}
	q := &query{shard: ds.Name, name: name, source: source, command: command, tableArg: tableArg, db: ds.DB}
	if tableArg {
		if _, err := GetSqlTableName(stmt); err != nil {
			return nil, err
		}
		return q, nil
	}
	q.plain.sql, q.plain.binds = renderSql(stmt)
	return q, nil
}

// forTable 重写sql，分表实现; rewritten statements are cached per table
func (q *query) forTable(table string) (prepared, error) {
	if p, ok := q.tables.Load(table); ok {
		return p.(prepared), nil
	}
	stmt, _, err := GetSqlCommandType(q.source)
	if err != nil {
		return prepared{}, err
	}
	if err := ChangeSqlTableName(stmt, table); err != nil {
		return prepared{}, err
	}
	var p prepared
	p.sql, p.binds = renderSql(stmt)
	q.tables.Store(table, p)
	return p, nil
}

func (q *query) execute(ctx context.Context, args ...any) (any, error) {
	p := q.plain
	if q.tableArg {
		if len(args) == 0 {
			return nil, fmt.Errorf("%s: missing table argument", q.name)
		}
		table, ok := args[0].(string)
		if !ok || table == "" {
			return nil, fmt.Errorf("%s: first argument must be the table name, got %v", q.name, args[0])
		}
		var err error
		if p, err = q.forTable(table); err != nil {
			return nil, err
		}
		args = args[1:]
	}
	vars, err := bindVars(p.binds, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", q.name, err)
	}

	db := q.db
	if tx, ok := TxFromContext(ctx, q.shard); ok {
		db = tx
	}
	db = db.WithContext(ctx)
	if q.command == SELECT {
		rows := []map[string]interface{}{}
		if err := db.Raw(p.sql, vars...).Scan(&rows).Error; err != nil {
			return nil, err
		}
		return rows, nil
	}
	result := db.Exec(p.sql, vars...)
	if result.Error != nil {
		return nil, result.Error
	}
	return result.RowsAffected, nil
}

var positional = regexp.MustCompile(`^v(\d+)$`)

var naming = schema.NamingStrategy{}

// bindVars resolves each bind variable: v1, v2, ... are positional
// arguments, other names are looked up in map and struct arguments.
func bindVars(binds []string, args []any) ([]any, error) {
	vars := make([]any, 0, len(binds))
	for _, name := range binds {
		if m := positional.FindStringSubmatch(name); m != nil {
			idx, _ := strconv.Atoi(m[1])
			if idx < 1 || idx > len(args) {
				return nil, fmt.Errorf("missing positional argument %d", idx)
			}
			vars = append(vars, args[idx-1])
			continue
		}
		v, ok := lookupNamed(name, args)
		if !ok {
			return nil, fmt.Errorf("missing named argument %s", name)
		}
		vars = append(vars, v)
	}
	return vars, nil
}

func lookupNamed(name string, args []any) (any, bool) {
	for _, arg := range args {
		switch t := arg.(type) {
		case map[string]any:
			if v, ok := t[name]; ok {
				return v, true
			}
			continue
		}
		v, ok := deref(reflect.ValueOf(arg))
		if !ok || v.Kind() != reflect.Struct {
			continue
		}
		typ := v.Type()
		for i := 0; i < typ.NumField(); i++ {
			f := typ.Field(i)
			if !f.IsExported() {
				continue
			}
			if columnName(f) == name || f.Name == name {
				return v.Field(i).Interface(), true
			}
		}
	}
	return nil, false
}

// columnName follows the db tag, then gorm's column tag, then gorm naming.
func columnName(f reflect.StructField) string {
	if tag, ok := f.Tag.Lookup("db"); ok {
		if name, _, _ := strings.Cut(tag, ","); name != "" {
			return name
		}
	}
	if column := schema.ParseTagSetting(f.Tag.Get("gorm"), ";")["COLUMN"]; column != "" {
		return column
	}
	return naming.ColumnName("", f.Name)
}
