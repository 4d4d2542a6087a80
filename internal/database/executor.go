package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Query executes a raw SurrealQL query with parameters and returns the rows
// of its first statement, unmarshalled into T.
//
// Example:
//
//	rows, err := Query[roomRecord](ctx, db, "SELECT * FROM room WHERE num = $v", map[string]any{"v": 1})
func Query[T any](ctx context.Context, db *surrealdb.DB, query string, params map[string]any) ([]T, error) {
	results, err := surrealdb.Query[[]T](ctx, db, query, params)
	if err != nil {
		return nil, queryError(err, query)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	first := (*results)[0]
	if first.Status != "" && first.Status != "OK" {
		return nil, NewDBError(fmt.Errorf("%w: status %s", ErrQueryFailed, first.Status), "statement failed").WithQuery(query)
	}
	return first.Result, nil
}

// QueryOne executes a query and returns its single row, or ErrNotFound.
// SELECT statements without a LIMIT get one appended.
func QueryOne[T any](ctx context.Context, db *surrealdb.DB, query string, params map[string]any) (*T, error) {
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") && !hasLimitClause(query) {
		query += " LIMIT 1"
	}
	rows, err := Query[T](ctx, db, query, params)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, NewDBError(ErrNotFound, "no rows").WithQuery(query)
	case 1:
		return &rows[0], nil
	}
	return nil, NewDBError(ErrMultipleResults, "expected one row").WithQuery(query)
}

// Execute runs statements whose rows are not needed.
func Execute(ctx context.Context, db *surrealdb.DB, query string, params map[string]any) error {
	if _, err := surrealdb.Query[any](ctx, db, query, params); err != nil {
		return queryError(err, query)
	}
	return nil
}

// hasLimitClause checks if the query already has a LIMIT clause.
func hasLimitClause(query string) bool {
	query = " " + strings.ToUpper(query) + " "
	return strings.Contains(query, " LIMIT ")
}
