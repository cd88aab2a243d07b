package shardroute

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xwb1989/sqlparser"
)

type CommandType string

const (
	SELECT CommandType = "SELECT"
	INSERT CommandType = "INSERT"
	UPDATE CommandType = "UPDATE"
	DELETE CommandType = "DELETE"
)

// GetSqlCommandType parses sql and reports its command type.
func GetSqlCommandType(sql string) (sqlparser.Statement, CommandType, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, "", fmt.Errorf("parse sql err: %w", err)
	}
	switch stmt.(type) {
	case *sqlparser.Select:
		return stmt, SELECT, nil
	case *sqlparser.Insert:
		return stmt, INSERT, nil
	case *sqlparser.Update:
		return stmt, UPDATE, nil
	case *sqlparser.Delete:
		return stmt, DELETE, nil
	}
	return nil, "", fmt.Errorf("unsupported statement %T", stmt)
}

// GetSqlTableName 从sql中取表名, single table statements only
func GetSqlTableName(stmt sqlparser.Statement) (string, error) {
	switch node := stmt.(type) {
	case *sqlparser.Select:
		return singleTableName(node.From)
	case *sqlparser.Insert:
		return node.Table.Name.String(), nil
	case *sqlparser.Update:
		return singleTableName(node.TableExprs)
	case *sqlparser.Delete:
		return singleTableName(node.TableExprs)
	}
	return "", fmt.Errorf("unsupported statement %T", stmt)
}

func singleTableName(exprs sqlparser.TableExprs) (string, error) {
	if len(exprs) != 1 {
		return "", errors.New("statement must reference exactly one table")
	}
	expr, ok := exprs[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return "", fmt.Errorf("not support parser: %v", sqlparser.String(exprs[0]))
	}
	t, ok := expr.Expr.(sqlparser.TableName)
	if !ok {
		return "", fmt.Errorf("not support parser: %v", sqlparser.String(expr))
	}
	return t.Name.String(), nil
}

// ChangeSqlTableName 更新sql中的表名, keeping the qualifier and alias
func ChangeSqlTableName(stmt sqlparser.Statement, newTableName string) error {
	switch node := stmt.(type) {
	case *sqlparser.Select:
		return renameTable(node.From, newTableName)
	case *sqlparser.Insert:
		node.Table.Name = sqlparser.NewTableIdent(newTableName)
		return nil
	case *sqlparser.Update:
		return renameTable(node.TableExprs, newTableName)
	case *sqlparser.Delete:
		return renameTable(node.TableExprs, newTableName)
	}
	return fmt.Errorf("unsupported statement %T", stmt)
}

func renameTable(exprs sqlparser.TableExprs, newTableName string) error {
	if len(exprs) != 1 {
		return errors.New("statement must reference exactly one table")
	}
	expr, ok := exprs[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return fmt.Errorf("not support parser: %v", sqlparser.String(exprs[0]))
	}
	t, ok := expr.Expr.(sqlparser.TableName)
	if !ok {
		return fmt.Errorf("not support parser: %v", sqlparser.String(expr))
	}
	expr.Expr = sqlparser.TableName{
		// 表名
		Name: sqlparser.NewTableIdent(newTableName),
		// 库名
		Qualifier: t.Qualifier,
	}
	return nil
}

// renderSql formats stmt with every bind variable written as "?", and
// returns the variable names in order. Positional "?" placeholders come
// back from the parser as v1, v2, ...
func renderSql(stmt sqlparser.Statement) (string, []string) {
	var binds []string
	buf := sqlparser.NewTrackedBuffer(func(buf *sqlparser.TrackedBuffer, node sqlparser.SQLNode) {
		if v, ok := node.(*sqlparser.SQLVal); ok && v.Type == sqlparser.ValArg {
			binds = append(binds, strings.TrimPrefix(string(v.Val), ":"))
			buf.WriteString("?")
			return
		}
		node.Format(buf)
	})
	buf.Myprintf("%v", stmt)
	return buf.String(), binds
}
