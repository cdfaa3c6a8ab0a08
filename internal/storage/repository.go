package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"pulsewatch/internal/apperr"
)

// Entity is implemented by every persisted model.
type Entity interface {
	TableName() string
}

// Repository provides generic CRUD operations for an entity type.
type Repository[T Entity] struct {
	orm       *ORM
	tableName string
}

// NewRepository creates a new repository for type T.
func NewRepository[T Entity](orm *ORM) *Repository[T] {
	var zero T
	return &Repository[T]{
		orm:       orm,
		tableName: zero.TableName(),
	}
}

// Select starts a query builder over the repository table.
func (r *Repository[T]) Select() *SelectBuilder[T] {
	return NewSelectBuilderFrom[T](r.orm, r.tableName)
}

// Create inserts entity and writes the generated id back into its ID field.
//
// CreatedAt and UpdatedAt are stamped with now when present.
func (r *Repository[T]) Create(ctx context.Context, entity *T) (int64, error) {
	v := reflect.ValueOf(entity).Elem()
	t := v.Type()
	now := time.Now().UTC()

	var columns, placeholders []string
	var values []any

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		dbTag := field.Tag.Get("db")
		if dbTag == "" || dbTag == "-" || strings.Contains(dbTag, "auto_increment") {
			continue
		}

		fieldValue := v.Field(i)
		if field.Name == "CreatedAt" || field.Name == "UpdatedAt" {
			fieldValue.Set(reflect.ValueOf(now))
		}

		columns = append(columns, strings.Split(dbTag, ",")[0])
		placeholders = append(placeholders, "?")
		values = append(values, bindValue(fieldValue))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		r.tableName,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	)

	result, err := r.orm.Exec(ctx, query, values...)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", r.tableName, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get %s ID: %w", r.tableName, err)
	}

	if idField := v.FieldByName("ID"); idField.IsValid() && idField.CanSet() {
		idField.SetInt(id)
	}

	return id, nil
}

// GetByID retrieves an entity by id, wrapping apperr.ErrNotFound when absent.
func (r *Repository[T]) GetByID(ctx context.Context, id int64) (*T, error) {
	return r.First(ctx, "id = ?", id)
}

// Update rewrites every column of entity except id and CreatedAt.
func (r *Repository[T]) Update(ctx context.Context, entity *T) error {
	v := reflect.ValueOf(entity).Elem()
	t := v.Type()

	var setParts []string
	var values []any
	var id int64

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		dbTag := field.Tag.Get("db")
		if dbTag == "" || dbTag == "-" || field.Name == "CreatedAt" {
			continue
		}

		columnName := strings.Split(dbTag, ",")[0]
		fieldValue := v.Field(i)

		if columnName == "id" {
			id = fieldValue.Int()
			continue
		}
		if field.Name == "UpdatedAt" {
			fieldValue.Set(reflect.ValueOf(time.Now().UTC()))
		}

		setParts = append(setParts, columnName+" = ?")
		values = append(values, bindValue(fieldValue))
	}

	values = append(values, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", r.tableName, strings.Join(setParts, ", "))

	if _, err := r.orm.Exec(ctx, query, values...); err != nil {
		return fmt.Errorf("failed to update %s: %w", r.tableName, err)
	}
	return nil
}

// UpdateColumns is a single-row update of the named columns only.
//
// It lets each component write the columns it owns without clobbering
// concurrent writes to the others. Reports whether the row existed.
func (r *Repository[T]) UpdateColumns(ctx context.Context, id int64, columns map[string]any) (bool, error) {
	if len(columns) == 0 {
		return false, nil
	}

	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)

	setParts := make([]string, 0, len(names))
	values := make([]any, 0, len(names)+1)
	for _, name := range names {
		setParts = append(setParts, name+" = ?")
		values = append(values, bindValue(reflect.ValueOf(columns[name])))
	}
	values = append(values, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", r.tableName, strings.Join(setParts, ", "))
	res, err := r.orm.Exec(ctx, query, values...)
	if err != nil {
		return false, fmt.Errorf("failed to update %s columns: %w", r.tableName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// Delete deletes an entity by id. Deleting a missing row is not an error.
func (r *Repository[T]) Delete(ctx context.Context, id int64) error {
	_, err := r.DeleteWhere(ctx, "id = ?", id)
	return err
}

// DeleteWhere deletes the rows matching condition and returns how many went away.
func (r *Repository[T]) DeleteWhere(ctx context.Context, condition string, args ...any) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", r.tableName, condition)
	res, err := r.orm.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", r.tableName, err)
	}
	return res.RowsAffected()
}

// Where returns the entities matching condition in id order.
func (r *Repository[T]) Where(ctx context.Context, condition string, args ...any) ([]T, error) {
	return r.Select().Where(condition, args...).OrderBy("id").Execute(ctx)
}

// First returns the first entity matching condition.
func (r *Repository[T]) First(ctx context.Context, condition string, args ...any) (*T, error) {
	entity, err := r.Select().Where(condition, args...).First(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("%s not found", strings.TrimSuffix(r.tableName, "s"))
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// Count returns the number of entities matching condition. An empty condition counts all rows.
func (r *Repository[T]) Count(ctx context.Context, condition string, args ...any) (int64, error) {
	builder := r.Select()
	if condition != "" {
		builder = builder.Where(condition, args...)
	}
	return builder.Count(ctx)
}

// Repositories provides access to all repository instances.
type Repositories struct {
	Monitors     *Repository[Monitor]
	CheckLogs    *Repository[CheckLog]
	Stats        *Repository[MonitorStats]
	AlertRules   *Repository[AlertRule]
	AlertEvents  *Repository[AlertEvent]
	Reports      *Repository[Report]
	UserFeatures *Repository[UserFeature]
}

// NewRepositories creates and initializes all repository instances.
func NewRepositories(orm *ORM) *Repositories {
	return &Repositories{
		Monitors:     NewRepository[Monitor](orm),
		CheckLogs:    NewRepository[CheckLog](orm),
		Stats:        NewRepository[MonitorStats](orm),
		AlertRules:   NewRepository[AlertRule](orm),
		AlertEvents:  NewRepository[AlertEvent](orm),
		Reports:      NewRepository[Report](orm),
		UserFeatures: NewRepository[UserFeature](orm),
	}
}
