package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"go.pilab.hu/sociallink/domain"
)

// UserRepository reads host user rows from arbitrary tables.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a repository over db.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindUser implements domain.UserRepository.
func (r *UserRepository) FindUser(ctx context.Context, q domain.UserQuery) (domain.UserRecord, error) {
	where := []string{fmt.Sprintf("CAST(%s AS TEXT) = ?", quote(q.PrimaryKey))}
	args := []any{q.ID}

	keys := make([]string, 0, len(q.Scope))
	for k := range q.Scope {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		where = append(where, fmt.Sprintf("CAST(%s AS TEXT) = ?", quote(k)))
		args = append(args, scopeValue(q.Scope[k]))
	}

	rows, err := queryMaps(ctx, r.db,
		fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT 1", quote(q.Collection), strings.Join(where, " AND ")),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	user := rows[0]
	for _, rel := range q.Contain {
		related, err := queryMaps(ctx, r.db,
			fmt.Sprintf("SELECT * FROM %s WHERE CAST(%s AS TEXT) = ?", quote(rel.Collection), quote(rel.ForeignKey)),
			q.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", rel.Collection, err)
		}
		user[rel.Name] = related
	}
	return user, nil
}

func queryMaps(ctx context.Context, db *sql.DB, query string, args ...any) ([]domain.UserRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]domain.UserRecord, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(domain.UserRecord, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[c] = string(b)
				continue
			}
			rec[c] = values[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// InsertUser implements domain.UserWriter. Columns are taken from the
// record keys; the table must exist.
func (r *UserRepository) InsertUser(ctx context.Context, collection string, record domain.UserRecord) error {
	cols, placeholders, args := insertParts(record, func(int) string { return "?" })
	if len(cols) == 0 {
		return fmt.Errorf("insert into %s: empty record", collection)
	}
	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(collection), strings.Join(cols, ", "), strings.Join(placeholders, ", ")),
		args...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewConflictError("insert user", collection, err)
		}
		return fmt.Errorf("insert into %s: %w", collection, err)
	}
	return nil
}

func insertParts(record domain.UserRecord, placeholder func(int) string) ([]string, []string, []any) {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cols := make([]string, 0, len(keys))
	placeholders := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		cols = append(cols, quote(k))
		placeholders = append(placeholders, placeholder(i+1))
		args = append(args, record[k])
	}
	return cols, placeholders, args
}

// SQLite stores booleans as integers.
func scopeValue(v any) string {
	if b, ok := v.(bool); ok {
		if b {
			return "1"
		}
		return "0"
	}
	return fmt.Sprint(v)
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var (
	_ domain.UserRepository = (*UserRepository)(nil)
	_ domain.UserWriter     = (*UserRepository)(nil)
)
