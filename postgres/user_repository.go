package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go.pilab.hu/sociallink/domain"
)

// UserRepository reads host user rows from arbitrary tables. Keys are
// compared as text so string and integer primary keys both work.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a repository over pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// FindUser implements domain.UserRepository.
func (r *UserRepository) FindUser(ctx context.Context, q domain.UserQuery) (domain.UserRecord, error) {
	where := []string{fmt.Sprintf("CAST(%s AS TEXT) = $1", ident(q.PrimaryKey))}
	args := []any{q.ID}

	keys := make([]string, 0, len(q.Scope))
	for k := range q.Scope {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, fmt.Sprint(q.Scope[k]))
		where = append(where, fmt.Sprintf("CAST(%s AS TEXT) = $%d", ident(k), len(args)))
	}

	rows, err := r.pool.Query(ctx,
		fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT 1", ident(q.Collection), strings.Join(where, " AND ")),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("pg: query %s: %w", q.Collection, err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("pg: scan %s: %w", q.Collection, err)
	}
	if len(found) == 0 {
		return nil, nil
	}

	user := domain.UserRecord(found[0])
	for _, rel := range q.Contain {
		related, err := r.related(ctx, rel, q.ID)
		if err != nil {
			return nil, err
		}
		user[rel.Name] = related
	}
	return user, nil
}

func (r *UserRepository) related(ctx context.Context, rel domain.Relation, ownerID string) ([]domain.UserRecord, error) {
	rows, err := r.pool.Query(ctx,
		fmt.Sprintf("SELECT * FROM %s WHERE CAST(%s AS TEXT) = $1", ident(rel.Collection), ident(rel.ForeignKey)),
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("pg: query %s: %w", rel.Collection, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("pg: scan %s: %w", rel.Collection, err)
	}
	out := make([]domain.UserRecord, 0, len(maps))
	for _, m := range maps {
		out = append(out, domain.UserRecord(m))
	}
	return out, nil
}

// InsertUser implements domain.UserWriter. Columns are taken from the
// record keys; the table must exist.
func (r *UserRepository) InsertUser(ctx context.Context, collection string, record domain.UserRecord) error {
	if len(record) == 0 {
		return fmt.Errorf("pg: insert into %s: empty record", collection)
	}
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cols := make([]string, 0, len(keys))
	placeholders := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		cols = append(cols, ident(k))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, record[k])
	}

	_, err := r.pool.Exec(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", ident(collection), strings.Join(cols, ", "), strings.Join(placeholders, ", ")),
		args...,
	)
	if err != nil {
		return mapError("insert user", err)
	}
	return nil
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

var (
	_ domain.UserRepository = (*UserRepository)(nil)
	_ domain.UserWriter     = (*UserRepository)(nil)
)
