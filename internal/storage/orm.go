package storage

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ORM is the thin query layer shared by all repositories.
//
// It exposes the two raw primitives (Query and Exec) used by the
// aggregation code, and a generic SelectBuilder that maps rows onto
// structs through their `db` tags.
type ORM struct {
	db *sql.DB
}

// NewORM wraps an open database handle.
func NewORM(db *sql.DB) *ORM {
	return &ORM{db: db}
}

// Query runs a read statement and returns the raw rows. Callers close them.
func (orm *ORM) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	log.Trace().Str("query", query).Interface("args", args).Msg("Executing query")
	rows, err := orm.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return rows, nil
}

// QueryRow runs a statement expected to return at most one row.
func (orm *ORM) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	log.Trace().Str("query", query).Interface("args", args).Msg("Executing query row")
	return orm.db.QueryRowContext(ctx, query, args...)
}

// Exec runs a write statement.
func (orm *ORM) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	log.Trace().Str("query", query).Interface("args", args).Msg("Executing statement")
	res, err := orm.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("exec failed: %w", err)
	}
	return res, nil
}

// SelectBuilder provides a fluent interface for building SELECT queries.
type SelectBuilder[T any] struct {
	orm       *ORM
	tableName string
	where     []whereClause
	orderBy   string
	limit     int
	offset    int
}

type whereClause struct {
	condition string
	args      []any
}

// NewSelectBuilderFrom creates a SELECT query builder over tableName.
func NewSelectBuilderFrom[T any](orm *ORM, tableName string) *SelectBuilder[T] {
	return &SelectBuilder[T]{
		orm:       orm,
		tableName: tableName,
	}
}

// Where adds a condition. Multiple conditions are combined with AND.
func (sb *SelectBuilder[T]) Where(condition string, args ...any) *SelectBuilder[T] {
	sb.where = append(sb.where, whereClause{condition: condition, args: args})
	return sb
}

// OrderBy sets the ORDER BY clause.
func (sb *SelectBuilder[T]) OrderBy(orderBy string) *SelectBuilder[T] {
	sb.orderBy = orderBy
	return sb
}

// Limit sets the maximum number of rows to return.
func (sb *SelectBuilder[T]) Limit(limit int) *SelectBuilder[T] {
	sb.limit = limit
	return sb
}

// Offset sets the number of rows to skip.
func (sb *SelectBuilder[T]) Offset(offset int) *SelectBuilder[T] {
	sb.offset = offset
	return sb
}

// Execute runs the built query and maps every row onto T.
func (sb *SelectBuilder[T]) Execute(ctx context.Context) ([]T, error) {
	query, args := sb.buildQuery("*")

	rows, err := sb.orm.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRows[T](rows)
}

// First returns the first matching row, or sql.ErrNoRows.
func (sb *SelectBuilder[T]) First(ctx context.Context) (T, error) {
	sb.limit = 1
	results, err := sb.Execute(ctx)

	var zero T
	if err != nil {
		return zero, err
	}
	if len(results) == 0 {
		return zero, sql.ErrNoRows
	}
	return results[0], nil
}

// Count returns the number of matching rows, ignoring limit and offset.
func (sb *SelectBuilder[T]) Count(ctx context.Context) (int64, error) {
	limit, offset, orderBy := sb.limit, sb.offset, sb.orderBy
	sb.limit, sb.offset, sb.orderBy = 0, 0, ""
	query, args := sb.buildQuery("COUNT(*)")
	sb.limit, sb.offset, sb.orderBy = limit, offset, orderBy

	var count int64
	if err := sb.orm.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count query failed: %w", err)
	}
	return count, nil
}

func (sb *SelectBuilder[T]) buildQuery(selectExpr string) (string, []any) {
	var query strings.Builder
	var args []any

	query.WriteString("SELECT ")
	query.WriteString(selectExpr)
	query.WriteString(" FROM ")
	query.WriteString(sb.tableName)

	if len(sb.where) > 0 {
		conditions := make([]string, len(sb.where))
		for i, w := range sb.where {
			conditions[i] = "(" + w.condition + ")"
			args = append(args, w.args...)
		}
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(conditions, " AND "))
	}

	if sb.orderBy != "" {
		query.WriteString(" ORDER BY ")
		query.WriteString(sb.orderBy)
	}

	// SQLite requires LIMIT whenever OFFSET is present.
	if sb.limit > 0 {
		fmt.Fprintf(&query, " LIMIT %d", sb.limit)
	} else if sb.offset > 0 {
		query.WriteString(" LIMIT -1")
	}
	if sb.offset > 0 {
		fmt.Fprintf(&query, " OFFSET %d", sb.offset)
	}

	return query.String(), args
}

func scanRows[T any](rows *sql.Rows) ([]T, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	var results []T
	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		var item T
		if err := populateStruct(reflect.ValueOf(&item).Elem(), columns, values); err != nil {
			return nil, fmt.Errorf("failed to populate struct: %w", err)
		}
		results = append(results, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return results, nil
}

// fieldMaps caches column name -> field index per struct type.
var fieldMaps sync.Map

func columnIndex(t reflect.Type) map[string]int {
	if cached, ok := fieldMaps.Load(t); ok {
		return cached.(map[string]int)
	}

	m := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("db")
		if tag == "-" {
			continue
		}
		if tag == "" {
			m[strings.ToLower(t.Field(i).Name)] = i
			continue
		}
		m[strings.Split(tag, ",")[0]] = i
	}

	fieldMaps.Store(t, m)
	return m
}

func populateStruct(v reflect.Value, columns []string, values []any) error {
	index := columnIndex(v.Type())
	for i, column := range columns {
		fieldIndex, ok := index[column]
		if !ok {
			continue
		}
		field := v.Field(fieldIndex)
		if !field.CanSet() {
			continue
		}
		if err := setFieldValue(field, values[i]); err != nil {
			return fmt.Errorf("failed to set field %s: %w", column, err)
		}
	}
	return nil
}

var timeType = reflect.TypeOf(time.Time{})

// setFieldValue assigns a driver value to a struct field.
//
// NULL sets pointer fields to nil and leaves other fields untouched.
// Time fields accept unix milliseconds as well as driver-parsed times.
func setFieldValue(field reflect.Value, value any) error {
	if field.Kind() == reflect.Ptr {
		if value == nil {
			field.Set(reflect.Zero(field.Type()))
			return nil
		}
		elem := reflect.New(field.Type().Elem())
		if err := setFieldValue(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}

	if value == nil {
		return nil
	}

	if field.Type() == timeType {
		t, err := toTime(value)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(t))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		switch v := value.(type) {
		case string:
			field.SetString(v)
		case []byte:
			field.SetString(string(v))
		default:
			return fmt.Errorf("cannot assign %T to string field", value)
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch v := value.(type) {
		case int64:
			field.SetInt(v)
		case int:
			field.SetInt(int64(v))
		case float64:
			field.SetInt(int64(v))
		default:
			return fmt.Errorf("cannot assign %T to int field", value)
		}

	case reflect.Float32, reflect.Float64:
		switch v := value.(type) {
		case float64:
			field.SetFloat(v)
		case int64:
			field.SetFloat(float64(v))
		default:
			return fmt.Errorf("cannot assign %T to float field", value)
		}

	case reflect.Bool:
		switch v := value.(type) {
		case bool:
			field.SetBool(v)
		case int64:
			field.SetBool(v != 0)
		default:
			return fmt.Errorf("cannot assign %T to bool field", value)
		}

	default:
		return fmt.Errorf("unsupported field kind: %s", field.Kind())
	}

	return nil
}

func toTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case int64:
		return time.UnixMilli(v).UTC(), nil
	case float64:
		return time.UnixMilli(int64(v)).UTC(), nil
	case time.Time:
		return v.UTC(), nil
	case string:
		return parseTimeString(v)
	case []byte:
		return parseTimeString(string(v))
	default:
		return time.Time{}, fmt.Errorf("cannot assign %T to time.Time field", value)
	}
}

func parseTimeString(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time format: %q", s)
}

// bindValue converts a struct field into a driver argument.
func bindValue(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		return bindValue(v.Elem())
	}
	if v.Type() == timeType {
		return v.Interface().(time.Time).UnixMilli()
	}
	return v.Interface()
}

// Millis converts a time into the stored column representation. Use it
// when passing time arguments to raw Query or Exec calls.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
