package memory

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.pilab.hu/sociallink/domain"
)

// UserRepository stores user documents per collection.
type UserRepository struct {
	mu          sync.RWMutex
	collections map[string][]domain.UserRecord
}

// NewUserRepository returns an empty repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{collections: map[string][]domain.UserRecord{}}
}

// Add appends a row to a collection.
func (r *UserRepository) Add(collection string, row domain.UserRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collections[collection] = append(r.collections[collection], row)
}

// FindUser implements domain.UserRepository.
func (r *UserRepository) FindUser(_ context.Context, q domain.UserQuery) (domain.UserRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, row := range r.collections[q.Collection] {
		if row.ID(q.PrimaryKey) != q.ID || !matchesScope(row, q.Scope) {
			continue
		}

		user := row.Without()
		for _, rel := range q.Contain {
			related := make([]domain.UserRecord, 0)
			for _, child := range r.collections[rel.Collection] {
				if child.ID(rel.ForeignKey) == q.ID {
					related = append(related, child.Without())
				}
			}
			user[rel.Name] = related
		}
		return user, nil
	}
	return nil, nil
}

func matchesScope(row domain.UserRecord, scope map[string]any) bool {
	for k, want := range scope {
		got, ok := row[k]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(got, want) && fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// InsertUser implements domain.UserWriter.
func (r *UserRepository) InsertUser(_ context.Context, collection string, record domain.UserRecord) error {
	r.Add(collection, record.Without())
	return nil
}

var (
	_ domain.UserRepository = (*UserRepository)(nil)
	_ domain.UserWriter     = (*UserRepository)(nil)
)
